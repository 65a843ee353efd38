// Package volume abstracts the storage medium a tier lives on. Paths are
// slash-separated and relative to the volume root.
package volume

import (
	"context"
	"errors"
	"path"
)

// ErrNotExist is returned when a file or directory is missing.
var ErrNotExist = errors.New("volume: file does not exist")

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	IsDir bool
}

// Volume is the set of filesystem operations the tiers need.
type Volume interface {
	// ReadDir lists the direct children of dir. "" is the volume root.
	ReadDir(ctx context.Context, dir string) ([]Entry, error)
	MkdirAll(ctx context.Context, dir string) error
	// WriteFile replaces name atomically.
	WriteFile(ctx context.Context, name string, data []byte) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	Remove(ctx context.Context, name string) error
	// Kind names the backend for logs and status.
	Kind() string
}

// Join joins path elements with "/", dropping empty ones.
func Join(elem ...string) string {
	return path.Join(elem...)
}
