// Package mirror keeps plain CSV copies of what goes into the store: one
// file per day of minute summaries, and one audit file per ingestion run.
package mirror

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"arraymon/internal/types"
)

const dayFileLayout = "02012006"

var dayHeader = []string{"Variable", "Magnitude", "Units", "Kind", "TimeStamp"}

// DayWriter appends minute batches to <dir>/<DDMMYYYY>.csv.
type DayWriter struct {
	dir string
	mu  sync.Mutex
}

func NewDayWriter(dir string) *DayWriter {
	return &DayWriter{dir: dir}
}

// DayFile returns the mirror path for the calendar day of t.
func DayFile(dir string, t time.Time) string {
	return filepath.Join(dir, t.Format(dayFileLayout)+".csv")
}

// Append writes the batch to the file of the batch's day. The header is
// written only when the file is new or empty.
func (w *DayWriter) Append(records []types.AggregatedRecord) error {
	if len(records) == 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create mirror dir: %w", err)
	}
	path := DayFile(w.dir, records[0].Time)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open day file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat day file: %w", err)
	}

	cw := csv.NewWriter(f)
	if info.Size() == 0 {
		_ = cw.Write(dayHeader)
	}
	for _, rec := range records {
		_ = cw.Write([]string{
			rec.Variable,
			formatFloat(rec.Magnitude),
			rec.Unit,
			string(rec.Kind),
			rec.Time.Format(types.RecordTimeLayout),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("write day file: %w", err)
	}
	return nil
}

// ReadDay loads the mirror file for the day of t. A missing file yields
// no records and no error.
func ReadDay(dir string, t time.Time) ([]types.AggregatedRecord, error) {
	f, err := os.Open(DayFile(dir, t))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(dayHeader)

	var out []types.AggregatedRecord
	for line := 1; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name(), err)
		}
		if row[0] == dayHeader[0] {
			continue
		}
		magnitude, err := parseFloat(row[1])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.Name(), line, err)
		}
		ts, err := time.ParseInLocation(types.RecordTimeLayout, row[4], t.Location())
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", f.Name(), line, err)
		}
		out = append(out, types.AggregatedRecord{
			Variable:  row[0],
			Magnitude: magnitude,
			Unit:      row[2],
			Kind:      types.AggregationKind(row[3]),
			Time:      ts,
		})
	}
	return out, nil
}

// NaN is written as an empty field.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
