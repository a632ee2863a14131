package aggregator

import (
	"math"
	"sync"
	"time"

	"arraymon/internal/types"
)

// Averaged variables are summarised by their mean, cumulative ones by
// their max. Output follows this order.
var (
	Averaged   = []string{types.Power, types.Tmod, types.Tair, types.POA, types.POA2, types.GHI, types.ALB}
	Cumulative = []string{types.DailyYield, types.TotalYield}
)

// Window buffers reading sets between minute flushes.
type Window struct {
	mu           sync.Mutex
	buf          []types.Reading
	lastAccepted time.Time
}

func New() *Window {
	return &Window{}
}

// Add buffers the set unless less than one second has passed since the
// previously accepted set.
func (w *Window) Add(now time.Time, set types.ReadingSet) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.lastAccepted.IsZero() && now.Sub(w.lastAccepted) < time.Second {
		return false
	}
	w.lastAccepted = now
	w.buf = append(w.buf, set...)
	return true
}

// Len returns the number of buffered readings.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Flush summarises and clears the buffer. Every record is stamped with now
// truncated to the second. An empty buffer yields nil.
func (w *Window) Flush(now time.Time) []types.AggregatedRecord {
	w.mu.Lock()
	buf := w.buf
	w.buf = nil
	w.mu.Unlock()

	if len(buf) == 0 {
		return nil
	}

	stamp := now.Truncate(time.Second)
	byVar := make(map[string][]types.Reading)
	for _, r := range buf {
		byVar[r.Variable] = append(byVar[r.Variable], r)
	}

	out := make([]types.AggregatedRecord, 0, len(Averaged)+len(Cumulative))
	for _, v := range Averaged {
		rs, ok := byVar[v]
		if !ok {
			continue
		}
		out = append(out, types.AggregatedRecord{
			Variable:  v,
			Magnitude: meanBy(rs),
			Unit:      firstUnit(rs),
			Kind:      types.KindMean,
			Time:      stamp,
		})
	}
	for _, v := range Cumulative {
		rs, ok := byVar[v]
		if !ok {
			continue
		}
		out = append(out, types.AggregatedRecord{
			Variable:  v,
			Magnitude: maxBy(rs),
			Unit:      firstUnit(rs),
			Kind:      types.KindMax,
			Time:      stamp,
		})
	}
	return out
}

// meanBy averages the non-NaN magnitudes; all-NaN input yields NaN.
func meanBy(rs []types.Reading) float64 {
	var (
		sum float64
		n   int
	)
	for _, r := range rs {
		if math.IsNaN(r.Magnitude) {
			continue
		}
		sum += r.Magnitude
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

// maxBy returns the largest non-NaN magnitude; all-NaN input yields NaN.
func maxBy(rs []types.Reading) float64 {
	out := math.NaN()
	for _, r := range rs {
		if math.IsNaN(r.Magnitude) {
			continue
		}
		if math.IsNaN(out) || r.Magnitude > out {
			out = r.Magnitude
		}
	}
	return out
}

// firstUnit is the unit of the earliest sample, even when that sample was
// a degraded reading with no unit.
func firstUnit(rs []types.Reading) string {
	if len(rs) == 0 {
		return ""
	}
	return rs[0].Unit
}
