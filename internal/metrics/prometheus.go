package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sensorFault = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arraymon_sensor_fault",
			Help: "Set to 1 once a conversion fault has been seen on the channel.",
		},
		[]string{"channel"},
	)
	deviceUnavailable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arraymon_device_unavailable_total",
			Help: "Acquisitions that fell back to NaN because the device could not be read.",
		},
	)
	webboxFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arraymon_webbox_failures_total",
			Help: "Web box polls that fell back to a NaN power reading.",
		},
	)
	setsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arraymon_window_sets_dropped_total",
			Help: "Reading sets rejected by the once-per-second gate.",
		},
	)
	minuteFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arraymon_minute_flushes_total",
			Help: "Minute summaries produced by the aggregation window.",
		},
	)
	sinkFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arraymon_sink_failures_total",
			Help: "Minute batches a sink failed to persist.",
		},
		[]string{"sink"},
	)
	calibrationOffset = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "arraymon_calibration_offset",
			Help: "Current additive irradiance offset in W/m2.",
		},
		[]string{"channel"},
	)
	ingestRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arraymon_ingest_runs_total",
			Help: "Archive ingestion runs by outcome.",
		},
		[]string{"result"},
	)
	ingestEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arraymon_ingest_events_total",
			Help: "Telemetry events seen by the ingestion pipeline.",
		},
		[]string{"stage"},
	)
	ingestSkippedDocuments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "arraymon_ingest_skipped_documents_total",
			Help: "Telemetry documents skipped because they could not be parsed.",
		},
	)
	dispatchDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "arraymon_dispatch_dropped_total",
			Help: "Background tasks dropped because the queue was full or unreachable.",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(
		sensorFault,
		deviceUnavailable,
		webboxFailures,
		setsDropped,
		minuteFlushes,
		sinkFailures,
		calibrationOffset,
		ingestRuns,
		ingestEvents,
		ingestSkippedDocuments,
		dispatchDropped,
	)
}

func SensorFault(channel string)             { sensorFault.WithLabelValues(channel).Set(1) }
func DeviceUnavailable()                     { deviceUnavailable.Inc() }
func WebboxFailure()                         { webboxFailures.Inc() }
func SetDropped()                            { setsDropped.Inc() }
func MinuteFlushed()                         { minuteFlushes.Inc() }
func SinkFailure(sink string)                { sinkFailures.WithLabelValues(sink).Inc() }
func IngestSkippedDocument()                 { ingestSkippedDocuments.Inc() }
func DispatchDropped(task string)            { dispatchDropped.WithLabelValues(task).Inc() }
func CalibrationOffset(ch string, v float64) { calibrationOffset.WithLabelValues(ch).Set(v) }
func IngestEvents(stage string, n int)       { ingestEvents.WithLabelValues(stage).Add(float64(n)) }

// IngestRun records the outcome of one ingestion run.
func IngestRun(err error) {
	if err != nil {
		ingestRuns.WithLabelValues("error").Inc()
		return
	}
	ingestRuns.WithLabelValues("ok").Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
