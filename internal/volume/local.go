package volume

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Local is a Volume rooted at a directory of the host filesystem.
type Local struct {
	root string
}

// NewLocal returns a volume rooted at root, creating it if needed.
func NewLocal(root string) (*Local, error) {
	if root == "" {
		return nil, errors.New("volume root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating volume root %s: %w", root, err)
	}
	return &Local{root: root}, nil
}

func (l *Local) Kind() string { return "local" }

// Root returns the host directory backing the volume.
func (l *Local) Root() string { return l.root }

func (l *Local) path(name string) string {
	return filepath.Join(l.root, filepath.FromSlash(name))
}

func (l *Local) ReadDir(_ context.Context, dir string) ([]Entry, error) {
	des, err := os.ReadDir(l.path(dir))
	if err != nil {
		return nil, mapErr(fmt.Errorf("listing %s: %w", dir, err))
	}
	out := make([]Entry, 0, len(des))
	for _, de := range des {
		out = append(out, Entry{Name: de.Name(), IsDir: de.IsDir()})
	}
	return out, nil
}

func (l *Local) MkdirAll(_ context.Context, dir string) error {
	if err := os.MkdirAll(l.path(dir), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}
	return nil
}

// WriteFile writes data to a temporary file in the destination directory,
// syncs it and renames it over name, so readers never see a torn packet.
func (l *Local) WriteFile(_ context.Context, name string, data []byte) error {
	dst := l.path(name)
	f, err := os.CreateTemp(filepath.Dir(dst), ".pkt-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", name, err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing %s: %w", name, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", name, err)
	}
	return nil
}

func (l *Local) ReadFile(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if err != nil {
		return nil, mapErr(fmt.Errorf("reading %s: %w", name, err))
	}
	return data, nil
}

func (l *Local) Remove(_ context.Context, name string) error {
	if err := os.Remove(l.path(name)); err != nil {
		return mapErr(fmt.Errorf("removing %s: %w", name, err))
	}
	return nil
}

// mapErr adds ErrNotExist to the chain of missing-file errors.
func mapErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errors.Join(ErrNotExist, err)
	}
	return err
}
