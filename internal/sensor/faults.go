package sensor

import (
	"sort"
	"sync"
	"time"

	"arraymon/internal/metrics"
)

// Faults remembers channels whose conversion failed at least once. A flag
// stays raised until the process restarts.
type Faults struct {
	mu    sync.Mutex
	since map[string]time.Time
}

func NewFaults() *Faults {
	return &Faults{since: make(map[string]time.Time)}
}

// Raise flags the channel and reports whether this is the first occurrence.
func (f *Faults) Raise(channel string, at time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.since[channel]; ok {
		return false
	}
	f.since[channel] = at
	metrics.SensorFault(channel)
	return true
}

// Active returns the flagged channels in name order.
func (f *Faults) Active() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.since))
	for ch := range f.since {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Since returns when the channel was first flagged.
func (f *Faults) Since(channel string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.since[channel]
	return t, ok
}
