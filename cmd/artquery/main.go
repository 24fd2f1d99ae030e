// Package main provides the entry point for the artquery CLI.
package main

import (
	"os"

	"github.com/kailas-cloud/artsearch/cmd/artquery/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
