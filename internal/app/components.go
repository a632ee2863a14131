package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"arraymon/internal/archive"
	"arraymon/internal/config"
	"arraymon/internal/db"
	"arraymon/internal/db/migrate"
	"arraymon/internal/dispatch"
	"arraymon/internal/ingest"
	"arraymon/internal/report"
	"arraymon/internal/sensor"
	"arraymon/internal/store"
	"arraymon/internal/store/clickhouse"
	"arraymon/internal/store/sqlite"
)

// OpenStore connects the configured store and brings its schema up to date.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case "clickhouse":
		return clickhouse.Open(ctx, cfg.Store, logger.With("component", "store"))
	case "sqlite":
		conn, err := db.Open(ctx, cfg.Store, logger.With("component", "sql"))
		if err != nil {
			return nil, err
		}
		if _, err := migrate.Run(ctx, conn, logger); err != nil {
			_ = db.Close(conn)
			return nil, err
		}
		return sqlite.NewRepository(conn, logger.With("component", "store")), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// Background holds what the dispatched tasks need. It is shared by the
// in-process pool and the AMQP worker.
type Background struct {
	Pipeline *ingest.Pipeline
	Report   *report.Generator

	redis *redis.Client
}

type IngestDeps struct {
	Store store.Store
	// Announcer is optional; leave it nil rather than a typed nil.
	Announcer ingest.Announcer
}

func NewBackground(ctx context.Context, cfg config.Config, deps IngestDeps, logger *slog.Logger) (*Background, error) {
	connect, err := archive.NewConnector(cfg.Archive)
	if err != nil {
		return nil, err
	}

	bg := &Background{}
	icfg := ingest.Config{
		StagingDir:   cfg.StagingDir(),
		AuditDir:     cfg.AuditDir(),
		Connect:      connect,
		Store:        deps.Store,
		Recorder:     deps.Store,
		Announcer:    deps.Announcer,
		FetchTimeout: cfg.Archive.Timeout,
		Logger:       logger,
	}
	if cfg.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := ingest.NewRedisClient(rctx, cfg.RedisAddr, cfg.RedisDB)
		cancel()
		if err != nil {
			logger.Warn("redis unavailable, ingestion runs are not coordinated across processes", "error", err)
		} else {
			bg.redis = client
			icfg.Tracker = ingest.NewRedisTracker(client, cfg.SiteID)
		}
	}
	bg.Pipeline = ingest.New(icfg)

	bg.Report = report.New(report.Config{
		MirrorDir:      cfg.MirrorDir(),
		CalibrationDir: cfg.CalibrationDir(),
		OutDir:         cfg.ReportDir(),
		Channels:       sensor.IrradianceChannels,
		Logger:         logger,
	})
	return bg, nil
}

// Router maps task kinds to the background jobs.
func (b *Background) Router() dispatch.Router {
	return dispatch.Router{
		dispatch.KindIngest: func(ctx context.Context, _ dispatch.Task) error {
			_, err := b.Pipeline.Run(ctx)
			return err
		},
		dispatch.KindReport: func(ctx context.Context, t dispatch.Task) error {
			_, err := b.Report.Generate(ctx, t.At)
			return err
		},
	}
}

func (b *Background) Close() error {
	if b.redis != nil {
		return b.redis.Close()
	}
	return nil
}
