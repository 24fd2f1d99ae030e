// Package imagestore resolves artwork identifiers to image files on disk.
package imagestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/kailas-cloud/artsearch/internal/domain"
)

const (
	// imagesMarker is the public path prefix under which images are served.
	imagesMarker = "static/data/images/"
	defaultMIME  = "image/jpeg"
	// MaxImageBytes bounds a single attachment.
	MaxImageBytes = 20 << 20
)

// Store loads images from a root directory. Paths cannot escape the root.
type Store struct {
	root *os.Root
}

// New opens dir as the image root.
func New(dir string) (*Store, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open image root %q: %w", dir, err)
	}
	return &Store{root: root}, nil
}

// Close releases the root directory handle.
func (s *Store) Close() error {
	return s.root.Close() //nolint:wrapcheck // trivial
}

// Load reads the image an identifier points at.
// Missing files and identifiers outside the root wrap domain.ErrImageNotFound.
func (s *Store) Load(ctx context.Context, id string) (domain.Image, error) {
	if err := ctx.Err(); err != nil {
		return domain.Image{}, err //nolint:wrapcheck // context error
	}

	name := Normalize(id)
	if name == "" {
		return domain.Image{}, fmt.Errorf("empty image name for %q: %w", id, domain.ErrImageNotFound)
	}

	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.Image{}, fmt.Errorf("%s: %w", name, domain.ErrImageNotFound)
		}
		return domain.Image{}, fmt.Errorf("open %s: %w", name, errors.Join(domain.ErrImageNotFound, err))
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxImageBytes+1))
	if err != nil {
		return domain.Image{}, fmt.Errorf("read %s: %w", name, err)
	}
	if len(data) > MaxImageBytes {
		return domain.Image{}, fmt.Errorf("image %s exceeds %d bytes", name, MaxImageBytes)
	}

	return domain.Image{Name: name, MIME: MIMEType(name), Data: data}, nil
}

// Normalize turns a URL, relative path or Windows path into a name relative
// to the image root.
func Normalize(id string) string {
	p := strings.TrimSpace(id)
	if u, err := url.Parse(p); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		p = u.Path
	}
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if i := strings.LastIndex(p, imagesMarker); i >= 0 {
		p = p[i+len(imagesMarker):]
	}
	for strings.HasPrefix(p, "./") || strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "./"), "../")
	}
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// MIMEType guesses a content type from the file extension, defaulting to JPEG.
func MIMEType(name string) string {
	t := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if t == "" {
		return defaultMIME
	}
	if mt, _, err := mime.ParseMediaType(t); err == nil {
		return mt
	}
	return t
}
