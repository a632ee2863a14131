package clickhouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"arraymon/internal/config"
	"arraymon/internal/types"
)

// Store keeps NaN magnitudes as-is; Float64 columns hold them natively.
type Store struct {
	conn   driver.Conn
	logger *slog.Logger
}

func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*Store, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.ClickHouseAddr},
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	for _, ddl := range allTables() {
		if err := conn.Exec(ctx, ddl); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
	}
	logger.Info("clickhouse connected", "addr", cfg.ClickHouseAddr, "db", cfg.ClickHouseDB)
	return &Store{conn: conn, logger: logger}, nil
}

func (s *Store) AppendProducer(ctx context.Context, records []types.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO producer_data")
	if err != nil {
		return fmt.Errorf("prepare producer batch: %w", err)
	}
	for _, rec := range records {
		if err := batch.Append(rec.Variable, rec.Magnitude, rec.Unit, string(rec.Kind), rec.Time); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %s: %w", rec.Variable, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send producer batch: %w", err)
	}
	return nil
}

func (s *Store) AppendInverter(ctx context.Context, events []types.TelemetryEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO inverter_data")
	if err != nil {
		return fmt.Errorf("prepare inverter batch: %w", err)
	}
	for _, ev := range events {
		if err := batch.Append(ev.SerialNumber, ev.Metric, ev.Mean, ev.Base, ev.Period, ev.Unit, ev.Time); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append %d/%s: %w", ev.SerialNumber, ev.Metric, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send inverter batch: %w", err)
	}
	return nil
}

func (s *Store) LatestProducer(ctx context.Context) ([]types.AggregatedRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT variable, magnitude, unit, toString(kind), ts
		FROM producer_data
		WHERE ts = (SELECT max(ts) FROM producer_data)
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AggregatedRecord
	for rows.Next() {
		var (
			rec  types.AggregatedRecord
			kind string
		)
		if err := rows.Scan(&rec.Variable, &rec.Magnitude, &rec.Unit, &kind, &rec.Time); err != nil {
			return nil, err
		}
		rec.Kind = types.AggregationKind(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RecordIngestRun(ctx context.Context, run types.IngestRun) error {
	return s.conn.Exec(ctx, `
		INSERT INTO ingest_runs (started_at, finished_at, fetched, files, documents, skipped, events, published, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt,
		run.FinishedAt,
		uint32(run.Fetched),
		uint32(run.Files),
		uint32(run.Documents),
		uint32(run.SkippedDocuments),
		uint32(run.Events),
		uint32(run.Published),
		run.Error,
	)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

func (s *Store) Close() error {
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("clickhouse close: %w", err)
	}
	return nil
}
