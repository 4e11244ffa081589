package handlers

import (
	"net/http"

	"github.com/finboard/finboard/internal/telemetry"
)

// MetricsHandler exposes sync counters.
type MetricsHandler struct {
	recorder *telemetry.Recorder
}

// NewMetricsHandler creates a MetricsHandler.
func NewMetricsHandler(recorder *telemetry.Recorder) *MetricsHandler {
	return &MetricsHandler{recorder: recorder}
}

// Snapshot handles GET /api/metrics.
func (h *MetricsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.recorder.Snapshot())
}
