package ingest

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"arraymon/internal/types"
)

// Layouts accepted for MeanPublic TimeStamp values, tried in order.
// Zone-less values are read in local time; zoned ones are converted to it.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	types.TelemetryTimeLayout,
	"01/02/2006 15:04:05",
}

type meanPublic struct {
	Key       string `xml:"Key"`
	Mean      string `xml:"Mean"`
	Base      string `xml:"Base"`
	Period    string `xml:"Period"`
	TimeStamp string `xml:"TimeStamp"`
}

// ParseDocument returns one event per MeanPublic element found at any
// depth. Any malformed element fails the whole document.
func ParseDocument(data []byte) ([]types.TelemetryEvent, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	// Web box exports declare encodings such as ISO-8859-1; the fields we
	// read are ASCII, so pass the bytes through.
	dec.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	var out []types.TelemetryEvent
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xml: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "MeanPublic" {
			continue
		}
		var mp meanPublic
		if err := dec.DecodeElement(&mp, &start); err != nil {
			return nil, fmt.Errorf("decode MeanPublic: %w", err)
		}
		ev, err := mp.event()
		if err != nil {
			return nil, fmt.Errorf("MeanPublic %q: %w", mp.Key, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (mp meanPublic) event() (types.TelemetryEvent, error) {
	parts := strings.Split(strings.TrimSpace(mp.Key), ":")
	if len(parts) < 3 {
		return types.TelemetryEvent{}, errors.New("key: want prefix:serial:metric")
	}
	serial, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return types.TelemetryEvent{}, fmt.Errorf("serial: %w", err)
	}
	mean, err := strconv.ParseFloat(strings.TrimSpace(mp.Mean), 64)
	if err != nil {
		return types.TelemetryEvent{}, fmt.Errorf("mean: %w", err)
	}
	base, err := strconv.ParseInt(strings.TrimSpace(mp.Base), 10, 64)
	if err != nil {
		return types.TelemetryEvent{}, fmt.Errorf("base: %w", err)
	}
	period, err := strconv.ParseInt(strings.TrimSpace(mp.Period), 10, 64)
	if err != nil {
		return types.TelemetryEvent{}, fmt.Errorf("period: %w", err)
	}
	ts, err := parseTimestamp(mp.TimeStamp)
	if err != nil {
		return types.TelemetryEvent{}, err
	}

	metric := parts[2]
	return types.TelemetryEvent{
		SerialNumber: serial,
		Metric:       metric,
		Mean:         mean,
		Base:         base,
		Period:       period,
		Time:         ts,
		Unit:         UnitFor(metric),
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t.In(time.Local), nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp %q: unrecognised layout", s)
}
