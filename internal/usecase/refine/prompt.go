package refine

import "fmt"

// Prompt builds the judge instruction for n attached images.
func Prompt(n int) string {
	return fmt.Sprintf(`You are an expert image analyst. Examine each of the following %d images and determine
whether it matches the search query. Answer strictly with a JSON array of "Yes" or "No" values, one per image,
in the same order as given.
Example:
["No", "Yes", "No"]`, n)
}
