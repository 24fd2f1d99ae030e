package refine

import (
	"context"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

// ImageLoader resolves a resource identifier to image bytes.
type ImageLoader interface {
	Load(ctx context.Context, id string) (domain.Image, error)
}
