package handlers

import (
	"net/http"

	"github.com/finboard/finboard/internal/connectivity"
	"github.com/finboard/finboard/internal/offline"
)

// HealthHandler reports service liveness, connectivity and queue depth.
type HealthHandler struct {
	facade  *offline.Facade
	tracker *connectivity.Tracker
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(facade *offline.Facade, tracker *connectivity.Tracker) *HealthHandler {
	return &HealthHandler{facade: facade, tracker: tracker}
}

// Check handles GET /api/health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	size, err := h.facade.GetQueueSize()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"service":    "finboard",
		"online":     h.tracker.IsOnline(),
		"queue_size": size,
	})
}
