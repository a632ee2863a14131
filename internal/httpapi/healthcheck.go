package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

// FaultSource lists the sensor channels currently flagged.
type FaultSource interface {
	Active() []string
}

// StateFunc reports the ingestion pipeline state.
type StateFunc func() string

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	store  Pinger
	faults FaultSource
	ingest StateFunc
	logger *slog.Logger
}

func NewHealthchecker(store Pinger, faults FaultSource, ingest StateFunc, logger *slog.Logger) healthchecker {
	return &healthcheckerImpl{store: store, faults: faults, ingest: ingest, logger: logger}
}

type healthResponse struct {
	Status string   `json:"status"`
	Faults []string `json:"sensor_faults"`
	Ingest string   `json:"ingest,omitempty"`
}

// handleHealthz fails only when the store is unreachable. Sensor faults are
// reported but do not change the status code.
func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("failed to check store connectivity", "error", err)
		WriteError(w, http.StatusInternalServerError, "failed to check store connectivity")
		return
	}

	resp := healthResponse{Status: "ok", Faults: []string{}}
	if h.faults != nil {
		if active := h.faults.Active(); len(active) > 0 {
			resp.Faults = active
			resp.Status = "degraded"
		}
	}
	if h.ingest != nil {
		resp.Ingest = h.ingest()
	}
	WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, store Pinger, faults FaultSource, ingest StateFunc, logger *slog.Logger) {
	healthchecker := NewHealthchecker(store, faults, ingest, logger)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
