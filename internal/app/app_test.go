package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arraymon/internal/config"
	"arraymon/internal/dispatch"
	"arraymon/internal/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		SiteID:  "r1",
		DataDir: dir,
		Store: config.StoreConfig{
			Driver:             "sqlite",
			SQLitePath:         filepath.Join(dir, "arraymon.db"),
			SQLiteMaxOpenConns: 1,
			SQLiteMaxIdleConns: 1,
		},
		Archive: config.ArchiveConfig{
			Source:  "dir",
			Dir:     filepath.Join(dir, "inbox"),
			Timeout: 5 * time.Second,
		},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenStore_SQLite(t *testing.T) {
	cfg := testConfig(t)
	st, err := OpenStore(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	batch := []types.AggregatedRecord{{
		Variable:  types.Power,
		Magnitude: 1200,
		Unit:      "W",
		Kind:      types.KindMean,
		Time:      time.Date(2024, 6, 2, 10, 1, 0, 0, time.Local),
	}}
	if err := st.AppendProducer(ctx, batch); err != nil {
		t.Fatalf("AppendProducer() error = %v", err)
	}
	got, err := st.LatestProducer(ctx)
	if err != nil || len(got) != 1 || got[0].Magnitude != 1200 {
		t.Errorf("LatestProducer() = %+v, %v", got, err)
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Driver = "postgres"
	if _, err := OpenStore(context.Background(), cfg, discardLogger()); err == nil {
		t.Error("OpenStore() error = nil for unknown driver")
	}
}

func TestBackgroundRouter(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()
	st, err := OpenStore(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	bg, err := NewBackground(ctx, cfg, IngestDeps{Store: st}, discardLogger())
	if err != nil {
		t.Fatalf("NewBackground() error = %v", err)
	}
	defer bg.Close()

	r := bg.Router()
	if err := r.Handle(ctx, dispatch.Task{Kind: dispatch.KindIngest, At: time.Now()}); err != nil {
		t.Errorf("ingest over an empty inbox: %v", err)
	}

	monday := time.Date(2024, 6, 10, 6, 0, 0, 0, time.Local)
	if err := r.Handle(ctx, dispatch.Task{Kind: dispatch.KindReport, At: monday}); err != nil {
		t.Fatalf("report task: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.ReportDir(), "week_20240610.csv")); err != nil {
		t.Errorf("report file missing: %v", err)
	}

	if err := r.Handle(ctx, dispatch.Task{Kind: "bogus"}); !errors.Is(err, dispatch.ErrUnknownTask) {
		t.Errorf("unknown task error = %v", err)
	}
}

type stuckDispatcher struct {
	released *bool
	closing  chan bool
	block    chan struct{}
}

func (d *stuckDispatcher) Dispatch(dispatch.Task) bool { return false }

func (d *stuckDispatcher) Close() error {
	d.closing <- *d.released
	<-d.block
	return nil
}

func TestShutdown_ReleasesDeviceBeforeDraining(t *testing.T) {
	released := false
	d := &stuckDispatcher{released: &released, closing: make(chan bool, 1), block: make(chan struct{})}
	defer close(d.block)

	ctx, cancelWork := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		shutdown(discardLogger(), func() { released = true }, cancelWork, d, 50*time.Millisecond)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown blocked on a dispatcher that never drains")
	}
	if !<-d.closing {
		t.Error("dispatcher closed while the device was still held")
	}
	if !released {
		t.Error("device not released")
	}
	if ctx.Err() == nil {
		t.Error("background work context not cancelled")
	}
}
