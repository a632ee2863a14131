package httpapi

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"time"

	"arraymon/internal/types"
)

type LatestSource interface {
	LatestProducer(ctx context.Context) ([]types.AggregatedRecord, error)
}

type latestRecord struct {
	Variable  string   `json:"variable"`
	Magnitude *float64 `json:"magnitude"`
	Unit      string   `json:"unit"`
	Kind      string   `json:"kind"`
	Timestamp string   `json:"timestamp"`
}

func registerLatest(mux *http.ServeMux, src LatestSource, logger *slog.Logger) {
	mux.HandleFunc("GET /api/latest", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		records, err := src.LatestProducer(ctx)
		if err != nil {
			logger.Error("failed to load latest minute", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to load latest minute")
			return
		}
		if len(records) == 0 {
			WriteError(w, http.StatusNotFound, "no minute summaries stored yet")
			return
		}

		out := make([]latestRecord, 0, len(records))
		for _, rec := range records {
			lr := latestRecord{
				Variable:  rec.Variable,
				Unit:      rec.Unit,
				Kind:      string(rec.Kind),
				Timestamp: rec.Time.Format(types.RecordTimeLayout),
			}
			if !math.IsNaN(rec.Magnitude) {
				v := rec.Magnitude
				lr.Magnitude = &v
			}
			out = append(out, lr)
		}
		WriteJSON(w, http.StatusOK, out)
	})
}
