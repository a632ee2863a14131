package calibration

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"arraymon/internal/metrics"
	"arraymon/internal/types"
)

const (
	CurrentFile = "offsets.csv"
	HistoryFile = "offsets_history.csv"

	dateLayout = "2006-01-02"
)

// Corrector owns the per-channel additive irradiance offsets. Recompute is
// called from a single goroutine; Offset may be called from any.
type Corrector struct {
	dir      string
	channels []string
	logger   *slog.Logger

	mu       sync.RWMutex
	offsets  map[string]float64
	lastDate string
}

func New(dir string, channels []string, logger *slog.Logger) *Corrector {
	offsets := make(map[string]float64, len(channels))
	for _, ch := range channels {
		offsets[ch] = 0
	}
	return &Corrector{dir: dir, channels: channels, logger: logger, offsets: offsets}
}

// Load restores the offsets and the date of the last recompute. Missing
// files leave zero offsets.
func (c *Corrector) Load() error {
	offsets, err := ReadOffsets(c.dir, c.channels)
	if err != nil {
		return err
	}
	lastDate, err := c.readLastHistoryDate()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.offsets = offsets
	c.lastDate = lastDate
	c.mu.Unlock()

	for ch, v := range offsets {
		metrics.CalibrationOffset(ch, v)
	}
	return nil
}

func (c *Corrector) Offset(channel string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offsets[channel]
}

// Offsets returns a copy of the current offsets.
func (c *Corrector) Offsets() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.offsets))
	for k, v := range c.offsets {
		out[k] = v
	}
	return out
}

// Recompute subtracts each channel's minute mean from its offset, at most
// once per calendar day. It reports whether the offsets changed.
func (c *Corrector) Recompute(now time.Time, batch []types.AggregatedRecord) (bool, error) {
	date := now.Format(dateLayout)

	c.mu.Lock()
	if c.lastDate == date {
		c.mu.Unlock()
		return false, nil
	}

	means := make(map[string]float64)
	for _, rec := range batch {
		if rec.Kind == types.KindMean {
			means[rec.Variable] = rec.Magnitude
		}
	}
	for _, ch := range c.channels {
		m, ok := means[ch]
		if !ok || math.IsNaN(m) {
			c.logger.Warn("calibration skipped channel", "channel", ch, "reason", "no mean in batch")
			continue
		}
		c.offsets[ch] -= m
	}
	c.lastDate = date
	snapshot := make(map[string]float64, len(c.offsets))
	for k, v := range c.offsets {
		snapshot[k] = v
	}
	c.mu.Unlock()

	for ch, v := range snapshot {
		metrics.CalibrationOffset(ch, v)
	}

	if err := c.writeCurrent(snapshot); err != nil {
		return true, err
	}
	if err := c.appendHistory(date, snapshot); err != nil {
		return true, err
	}
	c.logger.Info("calibration offsets updated", "date", date, "offsets", snapshot)
	return true, nil
}

// ReadOffsets loads the current offsets file without taking ownership of it.
func ReadOffsets(dir string, channels []string) (map[string]float64, error) {
	out := make(map[string]float64, len(channels))
	for _, ch := range channels {
		out[ch] = 0
	}

	f, err := os.Open(filepath.Join(dir, CurrentFile))
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open offsets: %w", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read offsets: %w", err)
	}
	if len(rows) < 2 {
		return out, nil
	}
	header, values := rows[0], rows[1]
	for i, name := range header {
		if _, ok := out[name]; !ok || i >= len(values) {
			continue
		}
		v, err := strconv.ParseFloat(values[i], 64)
		if err != nil {
			return nil, fmt.Errorf("offset %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

func (c *Corrector) writeCurrent(offsets map[string]float64) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create calibration dir: %w", err)
	}
	tmp, err := os.CreateTemp(c.dir, CurrentFile+".*")
	if err != nil {
		return fmt.Errorf("create temp offsets: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	_ = w.Write(c.channels)
	_ = w.Write(c.row(offsets))
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("write offsets: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync offsets: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close offsets: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(c.dir, CurrentFile)); err != nil {
		return fmt.Errorf("replace offsets: %w", err)
	}
	return nil
}

func (c *Corrector) appendHistory(date string, offsets map[string]float64) error {
	path := filepath.Join(c.dir, HistoryFile)
	_, statErr := os.Stat(path)
	newFile := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open offsets history: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if newFile {
		_ = w.Write(append([]string{"Date"}, c.channels...))
	}
	_ = w.Write(append([]string{date}, c.row(offsets)...))
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("append offsets history: %w", err)
	}
	return nil
}

func (c *Corrector) readLastHistoryDate() (string, error) {
	f, err := os.Open(filepath.Join(c.dir, HistoryFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("open offsets history: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	var last string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read offsets history: %w", err)
		}
		if len(rec) > 0 && rec[0] != "Date" {
			last = rec[0]
		}
	}
	return last, nil
}

func (c *Corrector) row(offsets map[string]float64) []string {
	out := make([]string, len(c.channels))
	for i, ch := range c.channels {
		out[i] = strconv.FormatFloat(offsets[ch], 'g', -1, 64)
	}
	return out
}
