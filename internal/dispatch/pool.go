package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"arraymon/internal/metrics"
)

// Pool runs tasks on a fixed number of in-process workers fed by a bounded
// queue.
type Pool struct {
	tasks   chan Task
	handler Handler
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(ctx context.Context, workers, queue int, handler Handler, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queue < 1 {
		queue = 1
	}
	p := &Pool{
		tasks:   make(chan Task, queue),
		handler: handler,
		logger:  logger.With("component", "dispatch"),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work(ctx, i)
	}
	return p
}

// Dispatch enqueues t, dropping it when the queue is full or the pool is
// closed.
func (p *Pool) Dispatch(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.drop(t, "pool closed")
		return false
	}
	select {
	case p.tasks <- t:
		p.logger.Debug("task queued", "kind", t.Kind, "at", t.At)
		return true
	default:
		p.drop(t, "queue full")
		return false
	}
}

func (p *Pool) drop(t Task, reason string) {
	metrics.DispatchDropped(string(t.Kind))
	p.logger.Warn("task dropped", "kind", t.Kind, "at", t.At, "reason", reason)
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

func (p *Pool) work(ctx context.Context, id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		if ctx.Err() != nil {
			p.logger.Info("skipping task after shutdown", "kind", t.Kind, "worker", id)
			continue
		}
		if err := p.handler(ctx, t); err != nil {
			p.logger.Error("task failed", "kind", t.Kind, "worker", id, "error", err)
			continue
		}
		p.logger.Debug("task done", "kind", t.Kind, "worker", id)
	}
}
