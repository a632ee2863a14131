package mirror

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"arraymon/internal/types"
)

const auditNameLayout = "20060102_150405"

var auditHeader = []string{"SerialNumber", "Metric", "Mean", "Base", "Period", "TimeStamp", "Units"}

// AuditFile returns the audit path for a run spanning the first and last
// event timestamps.
func AuditFile(dir string, events []types.TelemetryEvent) string {
	first := events[0].Time.Format(auditNameLayout)
	last := events[len(events)-1].Time.Format(auditNameLayout)
	return filepath.Join(dir, fmt.Sprintf("archive_from_%s_to_%s.csv", first, last))
}

// WriteAudit writes the full event set to a new audit file and returns its
// path. No events means no file.
func WriteAudit(dir string, events []types.TelemetryEvent) (string, error) {
	if len(events) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}

	path := AuditFile(dir, events)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create audit file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	_ = w.Write(auditHeader)
	for _, ev := range events {
		_ = w.Write([]string{
			strconv.FormatInt(ev.SerialNumber, 10),
			ev.Metric,
			formatFloat(ev.Mean),
			strconv.FormatInt(ev.Base, 10),
			strconv.FormatInt(ev.Period, 10),
			ev.Time.Format(types.TelemetryTimeLayout),
			ev.Unit,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("write audit file: %w", err)
	}
	return path, f.Sync()
}
