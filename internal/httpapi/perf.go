package httpapi

import (
	"net/http"

	"github.com/jmertens/parley/internal/observability"
)

// handlePerfLatency serves the recent stage-latency window so operators
// can eyeball probe, coaching and analysis timings without Prometheus.
func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	var snap observability.StageSnapshot
	if s.metrics != nil {
		snap = s.metrics.SnapshotStages()
	}
	if snap.Stages == nil {
		snap.Stages = []observability.StageStats{}
	}
	respondJSON(w, http.StatusOK, snap)
}
