package db

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"arraymon/internal/config"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name       string
		cfg        config.StoreConfig
		wantPrefix string
		wantSuffix string
	}{
		{
			name:       "explicit dsn wins",
			cfg:        config.StoreConfig{SQLiteDSN: ":memory:", SQLitePath: "ignored.db"},
			wantPrefix: ":memory:",
			wantSuffix: ":memory:",
		},
		{
			name:       "plain path",
			cfg:        config.StoreConfig{SQLitePath: filepath.Join(dir, "sub", "a.db")},
			wantPrefix: "file:" + filepath.Join(dir, "sub", "a.db") + "?",
			wantSuffix: "_synchronous=NORMAL",
		},
		{
			name:       "file uri with params",
			cfg:        config.StoreConfig{SQLitePath: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc"},
			wantPrefix: "file:" + filepath.Join(dir, "b.db") + "?mode=rwc&",
			wantSuffix: "_synchronous=NORMAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.cfg)
			if err != nil {
				t.Fatalf("buildDSN() error = %v", err)
			}
			if !strings.HasPrefix(got, tt.wantPrefix) || !strings.HasSuffix(got, tt.wantSuffix) {
				t.Errorf("buildDSN() = %q, want prefix %q suffix %q", got, tt.wantPrefix, tt.wantSuffix)
			}
		})
	}
}

func TestOpen_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "arraymon.db")
	db, err := Open(context.Background(), config.StoreConfig{SQLitePath: path, SQLiteMaxOpenConns: 1}, nil)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer Close(db)

	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}
