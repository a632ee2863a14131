package ingest

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/klauspost/compress/zip"
)

// document is one telemetry file found inside a nested Mean container.
type document struct {
	source string
	data   []byte
}

// isContainer reports whether an outer archive entry holds telemetry
// documents.
func isContainer(name string) bool {
	base := path.Base(name)
	return strings.HasPrefix(base, "Mean.") && strings.HasSuffix(base, ".zip")
}

// extractArchive opens the outer archive at p and returns the documents of
// every nested Mean container in entry order. A nested container that
// cannot be read is logged and skipped; an unreadable outer archive is an
// error.
func extractArchive(p string, logger *slog.Logger) ([]document, error) {
	r, err := zip.OpenReader(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path.Base(p), err)
	}
	defer r.Close()

	var out []document
	for _, f := range r.File {
		if f.FileInfo().IsDir() || !isContainer(f.Name) {
			continue
		}
		docs, err := extractContainer(f)
		if err != nil {
			logger.Warn("skipping nested container", "archive", path.Base(p), "entry", f.Name, "error", err)
			continue
		}
		for i := range docs {
			docs[i].source = path.Base(p) + "/" + f.Name + "/" + docs[i].source
		}
		out = append(out, docs...)
	}
	return out, nil
}

func extractContainer(f *zip.File) ([]document, error) {
	raw, err := readEntry(f)
	if err != nil {
		return nil, err
	}
	nested, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}

	var out []document
	for _, nf := range nested.File {
		if nf.FileInfo().IsDir() {
			continue
		}
		data, err := readEntry(nf)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", nf.Name, err)
		}
		out = append(out, document{source: nf.Name, data: data})
	}
	return out, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
