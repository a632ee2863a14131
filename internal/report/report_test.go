package report

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"arraymon/internal/mirror"
	"arraymon/internal/types"
)

func rec(variable string, kind types.AggregationKind, v float64, ts time.Time) types.AggregatedRecord {
	return types.AggregatedRecord{Variable: variable, Magnitude: v, Kind: kind, Time: ts}
}

func TestGenerate(t *testing.T) {
	root := t.TempDir()
	mirrorDir := filepath.Join(root, "producer")
	calDir := filepath.Join(root, "calibration")

	monday := time.Date(2024, 6, 10, 6, 0, 0, 0, time.Local)
	sunday := time.Date(2024, 6, 9, 12, 0, 0, 0, time.Local)

	w := mirror.NewDayWriter(mirrorDir)
	if err := w.Append([]types.AggregatedRecord{
		rec(types.Power, types.KindMean, 1000, sunday),
		rec(types.DailyYield, types.KindMax, 10, sunday),
		rec(types.POA, types.KindMean, 800, sunday),
	}); err != nil {
		t.Fatal(err)
	}
	next := sunday.Add(time.Minute)
	if err := w.Append([]types.AggregatedRecord{
		rec(types.Power, types.KindMean, 2000, next),
		rec(types.DailyYield, types.KindMax, 12.5, next),
		rec(types.POA, types.KindMean, math.NaN(), next),
	}); err != nil {
		t.Fatal(err)
	}
	// Outside the reporting week.
	if err := w.Append([]types.AggregatedRecord{rec(types.Power, types.KindMean, 9999, monday)}); err != nil {
		t.Fatal(err)
	}

	if err := os.MkdirAll(calDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(calDir, "offsets.csv"), []byte("POA,GHI\n1.5,-2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	g := New(Config{
		MirrorDir:      mirrorDir,
		CalibrationDir: calDir,
		OutDir:         filepath.Join(root, "reports"),
		Channels:       []string{types.POA, types.GHI},
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	sum, err := g.Generate(context.Background(), monday)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(sum.Days) != 7 {
		t.Fatalf("days = %d, want 7", len(sum.Days))
	}
	if first := sum.Days[0].Date; first.Day() != 3 {
		t.Errorf("first day = %v, want 2024-06-03", first)
	}

	last := sum.Days[6]
	if last.Minutes != 2 || last.MeanPower != 1500 || last.DailyYield != 12.5 || last.PeakPOA != 800 {
		t.Errorf("last day = %+v", last)
	}
	if !math.IsNaN(sum.Days[0].MeanPower) || sum.Days[0].Minutes != 0 {
		t.Errorf("empty day = %+v, want NaN mean and no minutes", sum.Days[0])
	}
	if sum.Offsets[types.POA] != 1.5 || sum.Offsets[types.GHI] != -2 {
		t.Errorf("offsets = %v", sum.Offsets)
	}

	if filepath.Base(sum.File) != "week_20240610.csv" {
		t.Errorf("file = %s", sum.File)
	}
	f, err := os.Open(sum.File)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 8 {
		t.Fatalf("rows = %d, want header + 7", len(rows))
	}
	want := []string{"2024-06-09", "2", "12.50", "1500.00", "800.00", "1.50", "-2.00"}
	for i, v := range want {
		if rows[7][i] != v {
			t.Errorf("row[7][%d] = %q, want %q", i, rows[7][i], v)
		}
	}
	if rows[1][2] != "" {
		t.Errorf("empty day yield = %q, want blank", rows[1][2])
	}
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := New(Config{OutDir: t.TempDir(), Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	if _, err := g.Generate(ctx, time.Now()); err == nil {
		t.Error("Generate() on cancelled ctx = nil error")
	}
}
