// Package scheduler runs the sampling loop: one acquisition per second, a
// summary per minute, the daily calibration and the day-boundary dispatch of
// background tasks.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"arraymon/internal/aggregator"
	"arraymon/internal/clock"
	"arraymon/internal/config"
	"arraymon/internal/dispatch"
	"arraymon/internal/metrics"
	"arraymon/internal/types"
)

const (
	defaultTick        = 100 * time.Millisecond
	defaultSinkTimeout = 10 * time.Second
	minuteKeyLayout    = "2006-01-02 15:04"
)

type Sampler interface {
	Acquire(ctx context.Context) types.ReadingSet
}

type Poller interface {
	Poll(ctx context.Context) types.ReadingSet
}

type Recomputer interface {
	Recompute(now time.Time, batch []types.AggregatedRecord) (bool, error)
}

// Sink persists one minute batch. Sinks run in order and fail
// independently.
type Sink struct {
	Name  string
	Write func(ctx context.Context, records []types.AggregatedRecord) error
}

type Config struct {
	Clock       clock.Clock
	Sampler     Sampler
	Poller      Poller
	Window      *aggregator.Window
	Calibration Recomputer
	Sinks       []Sink
	Dispatcher  dispatch.Dispatcher

	CalibrationHour   int
	CalibrationMinute int
	// Report is nil when no weekly report is scheduled.
	Report *config.WeeklySchedule

	Tick        time.Duration
	SinkTimeout time.Duration
	Logger      *slog.Logger
}

// Scheduler is driven from a single goroutine; Step is not safe for
// concurrent use.
type Scheduler struct {
	cfg    Config
	logger *slog.Logger

	started    bool
	lastAcq    time.Time
	lastMinute string
	lastDay    string
}

func New(cfg Config) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Window == nil {
		cfg.Window = aggregator.New()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = defaultTick
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{cfg: cfg, logger: cfg.Logger.With("component", "scheduler")}
}

// Run steps the loop every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"calibration", time.Date(0, 1, 1, s.cfg.CalibrationHour, s.cfg.CalibrationMinute, 0, 0, time.UTC).Format("15:04"),
		"sinks", len(s.cfg.Sinks),
	)
	for {
		s.Step(ctx, s.cfg.Clock.Now())
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped", "buffered", s.cfg.Window.Len())
			return ctx.Err()
		case <-s.cfg.Clock.After(s.cfg.Tick):
		}
	}
}

// Step runs one loop iteration at now. The first call only records the
// current minute and day.
func (s *Scheduler) Step(ctx context.Context, now time.Time) {
	if !s.started {
		s.started = true
		s.lastMinute = now.Format(minuteKeyLayout)
		s.lastDay = now.Format(time.DateOnly)
	}

	if s.lastAcq.IsZero() || now.Sub(s.lastAcq) >= time.Second {
		s.acquire(ctx, now)
	}

	if minute := now.Format(minuteKeyLayout); minute != s.lastMinute {
		s.lastMinute = minute
		s.onMinute(ctx, now)
	}
}

func (s *Scheduler) acquire(ctx context.Context, now time.Time) {
	var set types.ReadingSet
	if s.cfg.Poller != nil {
		set = append(set, s.cfg.Poller.Poll(ctx)...)
	}
	if s.cfg.Sampler != nil {
		set = append(set, s.cfg.Sampler.Acquire(ctx)...)
	}
	if !s.cfg.Window.Add(now, set) {
		metrics.SetDropped()
		s.logger.Debug("reading set dropped by window gate", "at", now)
	}
	s.lastAcq = now
}

func (s *Scheduler) onMinute(ctx context.Context, now time.Time) {
	batch := s.cfg.Window.Flush(now)
	if len(batch) > 0 {
		metrics.MinuteFlushed()
		s.persist(ctx, batch)
	} else {
		s.logger.Warn("minute elapsed with no readings", "at", now)
	}

	if now.Hour() == s.cfg.CalibrationHour && now.Minute() == s.cfg.CalibrationMinute {
		s.calibrate(now, batch)
	}

	if s.cfg.Report != nil && s.cfg.Report.Matches(now) {
		s.dispatch(dispatch.KindReport, now)
	}

	if day := now.Format(time.DateOnly); day != s.lastDay {
		s.logger.Info("day changed", "from", s.lastDay, "to", day)
		s.lastDay = day
		s.dispatch(dispatch.KindIngest, now)
	}
}

func (s *Scheduler) persist(ctx context.Context, batch []types.AggregatedRecord) {
	for _, sink := range s.cfg.Sinks {
		sctx, cancel := context.WithTimeout(ctx, s.cfg.SinkTimeout)
		err := sink.Write(sctx, batch)
		cancel()
		if err != nil {
			metrics.SinkFailure(sink.Name)
			s.logger.Error("minute batch dropped by sink",
				"sink", sink.Name,
				"records", len(batch),
				"at", batch[0].Time,
				"error", err,
			)
		}
	}
	s.logger.Debug("minute batch persisted", "records", len(batch), "at", batch[0].Time)
}

func (s *Scheduler) calibrate(now time.Time, batch []types.AggregatedRecord) {
	if s.cfg.Calibration == nil {
		return
	}
	if len(batch) == 0 {
		s.logger.Warn("calibration postponed, empty batch", "at", now)
		return
	}
	changed, err := s.cfg.Calibration.Recompute(now, batch)
	if err != nil {
		s.logger.Error("calibration offsets not persisted", "error", err)
		return
	}
	if !changed {
		s.logger.Debug("calibration already ran today")
	}
}

func (s *Scheduler) dispatch(kind dispatch.Kind, now time.Time) {
	if s.cfg.Dispatcher == nil {
		return
	}
	if s.cfg.Dispatcher.Dispatch(dispatch.Task{Kind: kind, At: now}) {
		s.logger.Info("task dispatched", "kind", kind, "at", now)
	}
}
