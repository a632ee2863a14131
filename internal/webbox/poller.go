package webbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"arraymon/internal/metrics"
	"arraymon/internal/types"
)

// fields lists the item index and key of each value in the home page payload.
var fields = []struct {
	index    int
	variable string
}{
	{0, types.Power},
	{1, types.DailyYield},
	{2, types.TotalYield},
}

type payload struct {
	Items []map[string]any `json:"Items"`
}

type Poller struct {
	url    string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time
}

func New(url string, timeout time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
		now:    time.Now,
	}
}

// Poll fetches the inverter summary. Any failure yields a single NaN Power
// reading with an empty unit.
func (p *Poller) Poll(ctx context.Context) types.ReadingSet {
	now := p.now()
	set, err := p.fetch(ctx, now)
	if err != nil {
		metrics.WebboxFailure()
		p.logger.Warn("webbox poll failed", "url", p.url, "error", err)
		return types.ReadingSet{{Variable: types.Power, Magnitude: math.NaN(), Time: now}}
	}
	return set
}

func (p *Poller) fetch(ctx context.Context, now time.Time) (types.ReadingSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var body payload
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	set := make(types.ReadingSet, 0, len(fields))
	for _, f := range fields {
		if f.index >= len(body.Items) {
			return nil, fmt.Errorf("missing item %d", f.index)
		}
		raw, ok := body.Items[f.index][f.variable].(string)
		if !ok {
			return nil, fmt.Errorf("item %d: %s is not a string", f.index, f.variable)
		}
		magnitude, unit, err := parseQuantity(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.variable, err)
		}
		set = append(set, types.Reading{Variable: f.variable, Magnitude: magnitude, Unit: unit, Time: now})
	}
	return set, nil
}

var errQuantity = errors.New("want \"<number> <unit>\"")

// parseQuantity splits "12.3 kWh" into its magnitude and unit.
func parseQuantity(s string) (float64, string, error) {
	parts := strings.Fields(s)
	if len(parts) != 2 {
		return 0, "", fmt.Errorf("%q: %w", s, errQuantity)
	}
	v, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, "", fmt.Errorf("%q: %w", s, errQuantity)
	}
	return v, parts[1], nil
}
