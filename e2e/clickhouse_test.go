//go:build e2e

package e2e

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"arraymon/internal/app"
	"arraymon/internal/config"
	"arraymon/internal/types"
)

const (
	clickhouseUser     = "arraymon"
	clickhousePassword = "arraymon-secret"
	clickhouseDB       = "arraymon"
)

func startClickHouse(t *testing.T) string {
	t.Helper()
	return startContainer(t, tc.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.8-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		Env: map[string]string{
			"CLICKHOUSE_USER":     clickhouseUser,
			"CLICKHOUSE_PASSWORD": clickhousePassword,
			"CLICKHOUSE_DB":       clickhouseDB,
		},
		WaitingFor: wait.ForHTTP("/ping").WithPort("8123/tcp").WithStartupTimeout(90 * time.Second),
	}, "9000/tcp")
}

func TestClickHouseStore(t *testing.T) {
	addr := startClickHouse(t)
	ctx := context.Background()

	cfg := config.Config{Store: config.StoreConfig{
		Driver:         "clickhouse",
		ClickHouseAddr: addr,
		ClickHouseDB:   clickhouseDB,
		ClickHouseUser: clickhouseUser,
		ClickHousePass: clickhousePassword,
	}}
	st, err := app.OpenStore(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	if err := st.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if got, err := st.LatestProducer(ctx); err != nil || len(got) != 0 {
		t.Fatalf("LatestProducer() on empty store = %+v, %v", got, err)
	}

	older := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)
	if err := st.AppendProducer(ctx, []types.AggregatedRecord{
		{Variable: types.Power, Magnitude: 100, Unit: "W", Kind: types.KindMean, Time: older},
	}); err != nil {
		t.Fatalf("AppendProducer(older) error = %v", err)
	}
	if err := st.AppendProducer(ctx, []types.AggregatedRecord{
		{Variable: types.Power, Magnitude: 120, Unit: "W", Kind: types.KindMean, Time: newer},
		{Variable: types.Tmod, Magnitude: math.NaN(), Unit: "C", Kind: types.KindMean, Time: newer},
		{Variable: types.DailyYield, Magnitude: 3.5, Unit: "kWh", Kind: types.KindMax, Time: newer},
	}); err != nil {
		t.Fatalf("AppendProducer(newer) error = %v", err)
	}

	latest, err := st.LatestProducer(ctx)
	if err != nil {
		t.Fatalf("LatestProducer() error = %v", err)
	}
	if len(latest) != 3 {
		t.Fatalf("LatestProducer() = %d records, want the 3 of the newest minute", len(latest))
	}
	byVar := make(map[string]types.AggregatedRecord)
	for _, rec := range latest {
		if !rec.Time.Equal(newer) {
			t.Errorf("%s time = %v, want %v", rec.Variable, rec.Time, newer)
		}
		byVar[rec.Variable] = rec
	}
	if p := byVar[types.Power]; p.Magnitude != 120 || p.Kind != types.KindMean {
		t.Errorf("Power = %+v", p)
	}
	if !math.IsNaN(byVar[types.Tmod].Magnitude) {
		t.Errorf("Tmod = %v, want NaN kept", byVar[types.Tmod].Magnitude)
	}
	if y := byVar[types.DailyYield]; y.Kind != types.KindMax || y.Magnitude != 3.5 {
		t.Errorf("DailyYield = %+v", y)
	}

	if err := st.AppendInverter(ctx, []types.TelemetryEvent{
		{SerialNumber: 2001234567, Metric: "Pac", Mean: 1500, Base: 1, Period: 300, Unit: "W", Time: older},
		{SerialNumber: 2001234567, Metric: "E-Total", Mean: 48213, Base: 1, Period: 300, Unit: "kWh", Time: older},
	}); err != nil {
		t.Fatalf("AppendInverter() error = %v", err)
	}
	if err := st.RecordIngestRun(ctx, types.IngestRun{
		StartedAt: older, FinishedAt: newer, Fetched: 1, Files: 1, Documents: 1, Events: 2, Published: 2,
	}); err != nil {
		t.Fatalf("RecordIngestRun() error = %v", err)
	}
	if err := st.AppendInverter(ctx, nil); err != nil {
		t.Errorf("AppendInverter(nil) error = %v", err)
	}
}
