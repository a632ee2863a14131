package ingest

import "arraymon/internal/types"

// merge concatenates per-document events in discovery order and returns
// the full set along with the publishable subset.
func merge(batches [][]types.TelemetryEvent) (all, published []types.TelemetryEvent) {
	for _, b := range batches {
		all = append(all, b...)
	}
	for _, ev := range all {
		if !Denied(ev.Metric) {
			published = append(published, ev)
		}
	}
	return all, published
}
