package archive

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Dir reads bundles dropped into a local directory.
type Dir struct {
	root string
}

func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (d *Dir) Retrieve(ctx context.Context, name string, w io.Writer) error {
	f, err := os.Open(d.path(name))
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}

func (d *Dir) Delete(ctx context.Context, name string) error {
	return os.Remove(d.path(name))
}

func (d *Dir) Close() error { return nil }

func (d *Dir) path(name string) string {
	return filepath.Join(d.root, filepath.Base(name))
}
