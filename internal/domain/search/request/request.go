// Package request describes one nearest-neighbour search against a collection.
package request

import "github.com/kailas-cloud/artsearch/internal/domain/search/candidate"

// DefaultPayloadFields are the payload keys every search asks for.
var DefaultPayloadFields = []string{
	candidate.PayloadImagePath,
	candidate.PayloadTitle,
	candidate.PayloadSectionText,
}

// Request is a similarity search against a named vector of a collection.
type Request struct {
	Collection    string
	VectorName    string
	Vector        []float32
	Limit         int
	PayloadFields []string
}
