// Package report builds the weekly production summary from the day mirror
// files and the current calibration offsets.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"arraymon/internal/calibration"
	"arraymon/internal/mirror"
	"arraymon/internal/types"
)

const (
	days       = 7
	fileLayout = "20060102"
)

type Config struct {
	MirrorDir      string
	CalibrationDir string
	OutDir         string
	Channels       []string
	Logger         *slog.Logger
}

type Day struct {
	Date       time.Time
	Minutes    int
	DailyYield float64
	MeanPower  float64
	PeakPOA    float64
}

type Summary struct {
	Days    []Day
	Offsets map[string]float64
	File    string
}

type Generator struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Generator{cfg: cfg, logger: cfg.Logger.With("component", "report")}
}

// Generate summarises the seven days before at and writes
// week_<YYYYMMDD>.csv named after at's date.
func (g *Generator) Generate(ctx context.Context, at time.Time) (Summary, error) {
	offsets, err := calibration.ReadOffsets(g.cfg.CalibrationDir, g.cfg.Channels)
	if err != nil {
		return Summary{}, fmt.Errorf("read offsets: %w", err)
	}
	sum := Summary{Offsets: offsets}

	today := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	for i := days; i >= 1; i-- {
		if err := ctx.Err(); err != nil {
			return Summary{}, err
		}
		date := today.AddDate(0, 0, -i)
		records, err := mirror.ReadDay(g.cfg.MirrorDir, date)
		if err != nil {
			g.logger.Warn("skipping unreadable day file", "date", date.Format(time.DateOnly), "error", err)
			records = nil
		}
		sum.Days = append(sum.Days, summarise(date, records))
	}

	if err := os.MkdirAll(g.cfg.OutDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create report dir: %w", err)
	}
	sum.File = filepath.Join(g.cfg.OutDir, "week_"+today.Format(fileLayout)+".csv")
	if err := g.write(sum); err != nil {
		return Summary{}, err
	}

	var yield float64
	for _, d := range sum.Days {
		if !math.IsNaN(d.DailyYield) {
			yield += d.DailyYield
		}
	}
	g.logger.Info("weekly report written", "file", sum.File, "yield", yield, "offsets", offsets)
	return sum, nil
}

func summarise(date time.Time, records []types.AggregatedRecord) Day {
	d := Day{Date: date, DailyYield: math.NaN(), MeanPower: math.NaN(), PeakPOA: math.NaN()}
	var (
		powerSum float64
		powerN   int
	)
	for _, r := range records {
		if math.IsNaN(r.Magnitude) {
			continue
		}
		switch {
		case r.Variable == types.DailyYield && r.Kind == types.KindMax:
			d.DailyYield = nanMax(d.DailyYield, r.Magnitude)
		case r.Variable == types.Power && r.Kind == types.KindMean:
			powerSum += r.Magnitude
			powerN++
		case r.Variable == types.POA && r.Kind == types.KindMean:
			d.PeakPOA = nanMax(d.PeakPOA, r.Magnitude)
		}
	}
	d.Minutes = powerN
	if powerN > 0 {
		d.MeanPower = powerSum / float64(powerN)
	}
	return d
}

func nanMax(cur, v float64) float64 {
	if math.IsNaN(cur) || v > cur {
		return v
	}
	return cur
}

func (g *Generator) write(sum Summary) error {
	f, err := os.Create(sum.File)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	header := []string{"Date", "Minutes", "DailyYield", "MeanPower", "PeakPOA"}
	for _, ch := range g.cfg.Channels {
		header = append(header, "Offset"+ch)
	}

	w := csv.NewWriter(f)
	_ = w.Write(header)
	for _, d := range sum.Days {
		row := []string{
			d.Date.Format(time.DateOnly),
			strconv.Itoa(d.Minutes),
			format(d.DailyYield),
			format(d.MeanPower),
			format(d.PeakPOA),
		}
		for _, ch := range g.cfg.Channels {
			row = append(row, format(sum.Offsets[ch]))
		}
		_ = w.Write(row)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func format(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}
