package archive

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"arraymon/internal/config"
)

func TestDir_ListRetrieveDelete(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "b.zip"), []byte("bbb"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.zip"), []byte("aaa"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	connect, err := NewConnector(config.ArchiveConfig{Source: "dir", Dir: root})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}
	ctx := context.Background()
	remote, err := connect(ctx)
	if err != nil {
		t.Fatalf("connect error = %v", err)
	}
	defer remote.Close()

	names, err := remote.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a.zip" || names[1] != "b.zip" {
		t.Fatalf("List() = %v, want [a.zip b.zip]", names)
	}

	var buf bytes.Buffer
	if err := remote.Retrieve(ctx, "a.zip", &buf); err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if buf.String() != "aaa" {
		t.Errorf("Retrieve() = %q, want aaa", buf.String())
	}

	if err := remote.Delete(ctx, "a.zip"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a.zip")); !os.IsNotExist(err) {
		t.Errorf("a.zip still present after Delete")
	}
}

func TestNewConnector_UnknownSource(t *testing.T) {
	if _, err := NewConnector(config.ArchiveConfig{Source: "smb"}); err == nil {
		t.Fatal("NewConnector(smb) error = nil")
	}
}
