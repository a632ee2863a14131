// Package dispatch hands background work (archive ingestion, weekly report)
// from the scheduler loop to workers without blocking it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type Kind string

const (
	KindIngest Kind = "ingest"
	KindReport Kind = "report"
)

// Task is the unit of background work. At is the scheduler time that
// triggered it.
type Task struct {
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
}

type Handler func(ctx context.Context, t Task) error

// Dispatcher accepts tasks without blocking. It reports whether the task
// was accepted; rejected tasks are already logged and counted.
type Dispatcher interface {
	Dispatch(t Task) bool
	Close() error
}

var ErrUnknownTask = errors.New("unknown task kind")

// Router sends each task to the handler registered for its kind.
type Router map[Kind]Handler

func (r Router) Handle(ctx context.Context, t Task) error {
	h, ok := r[t.Kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTask, t.Kind)
	}
	return h(ctx, t)
}

// Shutdown closes d but stops waiting for in-flight tasks once ctx ends.
// Tasks still running at that point are abandoned.
func Shutdown(ctx context.Context, d Dispatcher) error {
	done := make(chan error, 1)
	go func() { done <- d.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}
