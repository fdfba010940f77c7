package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/OFFIS-RIT/tvkpi/pkg/store"
)

// Blobs stores objects as files below a root directory.
type Blobs struct {
	root string
}

// NewBlobs creates root if needed.
func NewBlobs(root string) (*Blobs, error) {
	if root == "" {
		return nil, fmt.Errorf("data directory is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", root, err)
	}
	return &Blobs{root: root}, nil
}

// NewStore returns a ResultStore writing JSON files below root.
func NewStore(root string) (*store.JSONStore, error) {
	blobs, err := NewBlobs(root)
	if err != nil {
		return nil, err
	}
	return store.NewJSONStore(blobs), nil
}

func (b *Blobs) path(key string) (string, error) {
	p := filepath.Join(b.root, filepath.FromSlash(key))
	rel, err := filepath.Rel(b.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the data directory", key)
	}
	return p, nil
}

// Put writes data through a temporary file so readers never see a partial
// object.
func (b *Blobs) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := b.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

func (b *Blobs) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := b.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	return data, err
}
