package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"arraymon/internal/archive"
	"arraymon/internal/metrics"
	"arraymon/internal/mirror"
	"arraymon/internal/types"
)

type State int32

const (
	Idle State = iota
	Fetching
	Extracting
	Parsing
	Merging
	Publishing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Extracting:
		return "extracting"
	case Parsing:
		return "parsing"
	case Merging:
		return "merging"
	case Publishing:
		return "publishing"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrRunInProgress = errors.New("ingestion run already in progress")

const rejectedDir = "rejected"

type Publisher interface {
	AppendInverter(ctx context.Context, events []types.TelemetryEvent) error
}

type RunRecorder interface {
	RecordIngestRun(ctx context.Context, run types.IngestRun) error
}

type Announcer interface {
	PublishIngestRun(run types.IngestRun) error
}

type Config struct {
	StagingDir string
	AuditDir   string
	Connect    archive.Connector
	Store      Publisher

	// Optional.
	Recorder     RunRecorder
	Announcer    Announcer
	Tracker      Tracker
	FetchTimeout time.Duration
	LockTTL      time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type Result struct {
	Fetched          int
	Files            int
	Documents        int
	SkippedDocuments int
	Events           int
	Published        int
	AuditFile        string
}

type Pipeline struct {
	cfg     Config
	logger  *slog.Logger
	state   atomic.Int32
	running atomic.Bool
}

func New(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, logger: cfg.Logger.With("component", "ingest")}
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run performs one fetch, extract, parse, merge and publish cycle. Staged
// archives are removed only after their events were appended to the store.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	if p.cfg.Tracker != nil {
		ok, err := p.cfg.Tracker.Lock(ctx, p.cfg.LockTTL)
		switch {
		case err != nil:
			p.logger.Warn("run lock unavailable, continuing without it", "error", err)
		case !ok:
			return Result{}, ErrRunInProgress
		default:
			defer func() {
				if err := p.cfg.Tracker.Unlock(context.WithoutCancel(ctx)); err != nil {
					p.logger.Warn("release run lock", "error", err)
				}
			}()
		}
	}

	started := p.cfg.Now()
	res, err := p.run(ctx)
	p.setState(ctx, Idle)
	p.finish(context.WithoutCancel(ctx), started, res, err)
	return res, err
}

func (p *Pipeline) run(ctx context.Context) (Result, error) {
	var res Result
	if err := os.MkdirAll(p.cfg.StagingDir, 0o755); err != nil {
		return res, fmt.Errorf("create staging dir: %w", err)
	}

	p.setState(ctx, Fetching)
	res.Fetched = p.fetch(ctx)

	p.setState(ctx, Extracting)
	staged, err := p.stagedFiles()
	if err != nil {
		return res, fmt.Errorf("list staging dir: %w", err)
	}
	var (
		docs      []document
		processed []string
	)
	for _, f := range staged {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("extract: %w", err)
		}
		d, err := extractArchive(f, p.logger)
		if err != nil {
			p.logger.Error("unreadable archive", "file", filepath.Base(f), "error", err)
			p.reject(f)
			continue
		}
		docs = append(docs, d...)
		processed = append(processed, f)
	}
	res.Files = len(processed)
	res.Documents = len(docs)

	p.setState(ctx, Parsing)
	batches := make([][]types.TelemetryEvent, 0, len(docs))
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("parse: %w", err)
		}
		events, err := ParseDocument(d.data)
		if err != nil {
			res.SkippedDocuments++
			metrics.IngestSkippedDocument()
			p.logger.Warn("skipping document", "source", d.source, "error", err)
			continue
		}
		batches = append(batches, events)
	}

	p.setState(ctx, Merging)
	all, published := merge(batches)
	res.Events = len(all)
	if res.AuditFile, err = mirror.WriteAudit(p.cfg.AuditDir, all); err != nil {
		p.logger.Error("write audit file", "error", err)
	}

	p.setState(ctx, Publishing)
	if len(published) > 0 {
		if err := p.cfg.Store.AppendInverter(ctx, published); err != nil {
			p.logger.Error("publish failed, batch dropped; staged archives kept for the next run",
				"events", len(published), "files", len(processed), "error", err)
			return res, fmt.Errorf("publish: %w", err)
		}
	}
	res.Published = len(published)

	for _, f := range processed {
		if err := os.Remove(f); err != nil {
			p.logger.Warn("remove staged archive", "file", filepath.Base(f), "error", err)
		}
	}
	return res, nil
}

// fetch stages every remote bundle and deletes each remote copy once its
// local copy is durable. Connection and listing failures count as an empty
// listing.
func (p *Pipeline) fetch(ctx context.Context) int {
	if p.cfg.Connect == nil {
		return 0
	}
	if p.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.FetchTimeout)
		defer cancel()
	}

	remote, err := p.cfg.Connect(ctx)
	if err != nil {
		p.logger.Warn("archive remote unavailable", "error", err)
		return 0
	}
	defer func() {
		if err := remote.Close(); err != nil {
			p.logger.Debug("close archive remote", "error", err)
		}
	}()

	names, err := remote.List(ctx)
	if err != nil {
		p.logger.Warn("list archive remote", "error", err)
		return 0
	}
	sort.Strings(names)

	fetched := 0
	for _, name := range names {
		if ctx.Err() != nil {
			p.logger.Warn("fetch interrupted", "error", ctx.Err(), "remaining", len(names)-fetched)
			break
		}
		if err := p.stage(ctx, remote, name); err != nil {
			p.logger.Warn("retrieve archive", "name", name, "error", err)
			continue
		}
		fetched++
		if err := remote.Delete(ctx, name); err != nil {
			p.logger.Warn("delete remote archive", "name", name, "error", err)
		}
	}
	return fetched
}

func (p *Pipeline) stage(ctx context.Context, remote archive.Remote, name string) error {
	staged := stagedName(name)
	tmp, err := os.CreateTemp(p.cfg.StagingDir, "."+staged+".*.part")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := remote.Retrieve(ctx, name, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	final, err := linkUnique(tmp.Name(), p.cfg.StagingDir, staged)
	if err != nil {
		return err
	}
	if final != staged {
		p.logger.Info("staged under a new name", "name", name, "staged", final)
	}
	return nil
}

// stagedName flattens a remote key into one file name so bundles with the
// same base name in different remote directories stay apart.
func stagedName(key string) string {
	return strings.ReplaceAll(strings.Trim(key, "/"), "/", "_")
}

const maxStageSuffix = 1000

// linkUnique links src into dir as name, or as name.N.ext when that name is
// taken. An existing staged file is never replaced.
func linkUnique(src, dir, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < maxStageSuffix; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s.%d%s", stem, i, ext)
		}
		err := os.Link(src, filepath.Join(dir, candidate))
		if err == nil {
			return candidate, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
	}
	return "", fmt.Errorf("no free staging name for %s", name)
}

// stagedFiles lists completed downloads in name order.
func (p *Pipeline) stagedFiles() ([]string, error) {
	entries, err := os.ReadDir(p.cfg.StagingDir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, filepath.Join(p.cfg.StagingDir, e.Name()))
	}
	return out, nil
}

func (p *Pipeline) reject(file string) {
	dir := filepath.Join(p.cfg.StagingDir, rejectedDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Error("create rejected dir", "error", err)
		return
	}
	if err := os.Rename(file, filepath.Join(dir, filepath.Base(file))); err != nil {
		p.logger.Error("move rejected archive", "file", filepath.Base(file), "error", err)
	}
}

func (p *Pipeline) setState(ctx context.Context, s State) {
	p.state.Store(int32(s))
	if p.cfg.Tracker != nil {
		if err := p.cfg.Tracker.SetState(context.WithoutCancel(ctx), s); err != nil {
			p.logger.Debug("track state", "state", s, "error", err)
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, started time.Time, res Result, runErr error) {
	metrics.IngestRun(runErr)
	metrics.IngestEvents("parsed", res.Events)
	metrics.IngestEvents("published", res.Published)

	run := types.IngestRun{
		StartedAt:        started,
		FinishedAt:       p.cfg.Now(),
		Fetched:          res.Fetched,
		Files:            res.Files,
		Documents:        res.Documents,
		SkippedDocuments: res.SkippedDocuments,
		Events:           res.Events,
		Published:        res.Published,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if p.cfg.Recorder != nil {
		if err := p.cfg.Recorder.RecordIngestRun(ctx, run); err != nil {
			p.logger.Warn("record ingest run", "error", err)
		}
	}
	if p.cfg.Tracker != nil {
		if err := p.cfg.Tracker.SetResult(ctx, run); err != nil {
			p.logger.Debug("track result", "error", err)
		}
	}
	if p.cfg.Announcer != nil {
		if err := p.cfg.Announcer.PublishIngestRun(run); err != nil {
			p.logger.Debug("announce ingest run", "error", err)
		}
	}

	p.logger.Info("ingestion finished",
		"fetched", res.Fetched,
		"files", res.Files,
		"documents", res.Documents,
		"skipped", res.SkippedDocuments,
		"events", res.Events,
		"published", res.Published,
		"audit", res.AuditFile,
		"took", run.FinishedAt.Sub(started),
		"ok", runErr == nil,
	)
}
