package mode

// Mode is the retrieval route chosen for a query.
type Mode string

// Search mode constants.
const (
	// Image ranks by image-embedding similarity only.
	Image Mode = "image"
	// Text ranks by description-embedding similarity only.
	Text Mode = "text"
	// Fused blends both modalities with a fusion weight.
	Fused Mode = "fused"
)

// IsValid checks if the mode is one of the supported values.
func (m Mode) IsValid() bool {
	return m == Image || m == Text || m == Fused
}

// UsesImage reports whether the route queries the image collection.
func (m Mode) UsesImage() bool { return m == Image || m == Fused }

// UsesText reports whether the route queries the text collection.
func (m Mode) UsesText() bool { return m == Text || m == Fused }
