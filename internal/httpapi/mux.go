// Package httpapi serves the operational endpoints: health, metrics and the
// latest stored minute.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"arraymon/internal/metrics"
)

type Deps struct {
	Store interface {
		Pinger
		LatestSource
	}
	Faults FaultSource
	Ingest StateFunc
	Logger *slog.Logger
}

func NewMux(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	mux := http.NewServeMux()
	registerHealthcheck(mux, d.Store, d.Faults, d.Ingest, d.Logger)
	registerLatest(mux, d.Store, d.Logger)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func NewServer(addr string, h http.Handler, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           requestLogger(h, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
