package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"time"

	"arraymon/internal/types"
)

//go:embed sql/insert-producer.sql
var insertProducerSQL string

//go:embed sql/insert-inverter.sql
var insertInverterSQL string

//go:embed sql/get-latest-producer.sql
var getLatestProducerSQL string

//go:embed sql/insert-ingest-run.sql
var insertIngestRunSQL string

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewRepository(db *sql.DB, logger *slog.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

// AppendProducer inserts one minute batch in a single transaction. NaN
// magnitudes are stored as NULL.
func (r *Repository) AppendProducer(ctx context.Context, records []types.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.inTx(ctx, insertProducerSQL, func(stmt *sql.Stmt) error {
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				rec.Variable,
				nullable(rec.Magnitude),
				rec.Unit,
				string(rec.Kind),
				rec.Time.Format(types.RecordTimeLayout),
			); err != nil {
				return fmt.Errorf("insert %s: %w", rec.Variable, err)
			}
		}
		return nil
	})
}

func (r *Repository) AppendInverter(ctx context.Context, events []types.TelemetryEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.inTx(ctx, insertInverterSQL, func(stmt *sql.Stmt) error {
		for _, ev := range events {
			if _, err := stmt.ExecContext(ctx,
				ev.SerialNumber,
				ev.Metric,
				nullable(ev.Mean),
				ev.Base,
				ev.Period,
				ev.Unit,
				ev.Time.Format(types.TelemetryTimeLayout),
			); err != nil {
				return fmt.Errorf("insert %d/%s: %w", ev.SerialNumber, ev.Metric, err)
			}
		}
		return nil
	})
}

func (r *Repository) LatestProducer(ctx context.Context) ([]types.AggregatedRecord, error) {
	rows, err := r.db.QueryContext(ctx, getLatestProducerSQL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("close latest producer rows", "error", err)
		}
	}()

	var out []types.AggregatedRecord
	for rows.Next() {
		var (
			rec       types.AggregatedRecord
			magnitude sql.NullFloat64
			kind, ts  string
		)
		if err := rows.Scan(&rec.Variable, &magnitude, &rec.Unit, &kind, &ts); err != nil {
			return nil, err
		}
		rec.Magnitude = math.NaN()
		if magnitude.Valid {
			rec.Magnitude = magnitude.Float64
		}
		rec.Kind = types.AggregationKind(kind)
		rec.Time, err = time.ParseInLocation(types.RecordTimeLayout, ts, time.Local)
		if err != nil {
			return nil, fmt.Errorf("parse ts %q: %w", ts, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) RecordIngestRun(ctx context.Context, run types.IngestRun) error {
	_, err := r.db.ExecContext(ctx, insertIngestRunSQL,
		run.StartedAt.Format(time.RFC3339),
		run.FinishedAt.Format(time.RFC3339),
		run.Fetched,
		run.Files,
		run.Documents,
		run.SkippedDocuments,
		run.Events,
		run.Published,
		run.Error,
	)
	return err
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) inTx(ctx context.Context, query string, fn func(*sql.Stmt) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	if err := fn(stmt); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}
