package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPool_RunsTasks(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []Kind
	)
	p := NewPool(context.Background(), 2, 4, func(_ context.Context, task Task) error {
		mu.Lock()
		seen = append(seen, task.Kind)
		mu.Unlock()
		return nil
	}, discardLogger())

	if !p.Dispatch(Task{Kind: KindIngest}) || !p.Dispatch(Task{Kind: KindReport}) {
		t.Fatal("Dispatch() rejected a task with room in the queue")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if len(seen) != 2 {
		t.Errorf("handled %v, want both tasks", seen)
	}
}

func TestPool_DispatchNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	p := NewPool(context.Background(), 1, 1, func(context.Context, Task) error {
		started <- struct{}{}
		<-release
		return nil
	}, discardLogger())

	p.Dispatch(Task{Kind: KindIngest})
	<-started // worker busy
	if !p.Dispatch(Task{Kind: KindIngest}) {
		t.Fatal("second task should fit in the queue")
	}

	done := make(chan bool)
	go func() { done <- p.Dispatch(Task{Kind: KindReport}) }()
	select {
	case ok := <-done:
		if ok {
			t.Error("Dispatch() on a full queue = true, want dropped")
		}
	case <-time.After(time.Second):
		t.Fatal("Dispatch() blocked on a full queue")
	}

	close(release)
	_ = p.Close()
	if p.Dispatch(Task{Kind: KindIngest}) {
		t.Error("Dispatch() after Close() = true")
	}
}

func TestPool_HandlerErrorKeepsWorking(t *testing.T) {
	var (
		mu    sync.Mutex
		calls int
	)
	p := NewPool(context.Background(), 1, 2, func(context.Context, Task) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return errors.New("boom")
	}, discardLogger())
	p.Dispatch(Task{Kind: KindIngest})
	p.Dispatch(Task{Kind: KindIngest})
	_ = p.Close()
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRouter(t *testing.T) {
	var got Kind
	r := Router{
		KindIngest: func(_ context.Context, task Task) error { got = task.Kind; return nil },
	}

	if err := r.Handle(context.Background(), Task{Kind: KindIngest}); err != nil || got != KindIngest {
		t.Errorf("Handle(ingest) = %v, got %q", err, got)
	}
	if err := r.Handle(context.Background(), Task{Kind: KindReport}); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Handle(report) error = %v, want ErrUnknownTask", err)
	}
}

func TestRoutingKey(t *testing.T) {
	if got := routingKey(KindReport); got != "task.report" {
		t.Errorf("routingKey = %q", got)
	}
}

func TestShutdown_BoundedWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	p := NewPool(context.Background(), 1, 1, func(context.Context, Task) error {
		close(started)
		<-release // ignores ctx, like a stalled transfer
		return nil
	}, discardLogger())
	p.Dispatch(Task{Kind: KindIngest})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	begin := time.Now()
	err := Shutdown(ctx, p)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}
	if took := time.Since(begin); took > 2*time.Second {
		t.Errorf("Shutdown() took %v", took)
	}
}

func TestShutdown_Drains(t *testing.T) {
	var done bool
	p := NewPool(context.Background(), 1, 1, func(context.Context, Task) error {
		done = true
		return nil
	}, discardLogger())
	p.Dispatch(Task{Kind: KindIngest})

	if err := Shutdown(context.Background(), p); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if !done {
		t.Error("queued task not run before Shutdown returned")
	}
}
