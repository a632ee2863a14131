package migrate

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestRun_AppliesOnce(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	n, err := Run(ctx, db, logger)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 2 {
		t.Errorf("first Run applied %d migrations, want 2", n)
	}

	for _, table := range []string{"producer_data", "inverter_data", "ingest_runs"} {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}

	n, err = Run(ctx, db, logger)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if n != 0 {
		t.Errorf("second Run applied %d migrations, want 0", n)
	}
}

func TestMigrationFileRe(t *testing.T) {
	for name, want := range map[string]bool{
		"0001_schema.sql": true,
		"1_schema.sql":    false,
		"0001_schema.txt": false,
		"0002_a_b.sql":    true,
	} {
		if got := migrationFileRe.MatchString(name); got != want {
			t.Errorf("match(%q) = %v, want %v", name, got, want)
		}
	}
}
