package types

import "time"

// Variable names produced by the sample sources.
const (
	Power      = "Power"
	DailyYield = "DailyYield"
	TotalYield = "TotalYield"

	Tmod = "Tmod"
	Tair = "Tair"
	POA  = "POA"
	POA2 = "POA2"
	GHI  = "GHI"
	ALB  = "ALB"
)

// Timestamp layouts used when records leave the process.
const (
	RecordTimeLayout    = "2006-01-02 15:04:05"
	TelemetryTimeLayout = "2006/01/02 15:04:05"
)

// Reading is one instantaneous sensor value. Magnitude is NaN when the
// source could not produce a value.
type Reading struct {
	Variable  string    `json:"variable"`
	Magnitude float64   `json:"magnitude"`
	Unit      string    `json:"unit"`
	Time      time.Time `json:"time"`
}

// ReadingSet is the output of a single sample source call.
type ReadingSet []Reading

type AggregationKind string

const (
	KindMean AggregationKind = "mean"
	KindMax  AggregationKind = "max"
)

// AggregatedRecord is a per-minute summary of one variable.
type AggregatedRecord struct {
	Variable  string          `json:"variable"`
	Magnitude float64         `json:"magnitude"`
	Unit      string          `json:"unit"`
	Kind      AggregationKind `json:"kind"`
	Time      time.Time       `json:"timestamp"`
}

// TelemetryEvent is one metric reading for one inverter, parsed from an
// archived telemetry document.
type TelemetryEvent struct {
	SerialNumber int64     `json:"serial_number"`
	Metric       string    `json:"metric"`
	Mean         float64   `json:"mean"`
	Base         int64     `json:"base"`
	Period       int64     `json:"period"`
	Time         time.Time `json:"timestamp"`
	Unit         string    `json:"unit"`
}

// IngestRun summarises one archive ingestion run.
type IngestRun struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Fetched          int       `json:"fetched"`
	Files            int       `json:"files"`
	Documents        int       `json:"documents"`
	SkippedDocuments int       `json:"skipped_documents"`
	Events           int       `json:"events"`
	Published        int       `json:"published"`
	Error            string    `json:"error,omitempty"`
}
