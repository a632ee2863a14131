// Package store defines the append-only persistence used by the scheduler
// and the ingestion pipeline.
package store

import (
	"context"

	"arraymon/internal/types"
)

type Store interface {
	AppendProducer(ctx context.Context, records []types.AggregatedRecord) error
	AppendInverter(ctx context.Context, events []types.TelemetryEvent) error
	// LatestProducer returns the most recent minute batch, or nil when
	// nothing has been stored yet.
	LatestProducer(ctx context.Context) ([]types.AggregatedRecord, error)
	RecordIngestRun(ctx context.Context, run types.IngestRun) error
	Ping(ctx context.Context) error
	Close() error
}
