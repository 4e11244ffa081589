package handlers

import (
	"net/http"

	"github.com/finboard/finboard/internal/offline"
)

// SyncHandler triggers sync passes over the REST surface.
type SyncHandler struct {
	facade *offline.Facade
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(facade *offline.Facade) *SyncHandler {
	return &SyncHandler{facade: facade}
}

// Trigger handles POST /api/sync: runs one pass and reports its outcome.
// Offline or concurrent passes answer 409 with the error code.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	result, err := h.facade.Sync(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":       result.Total,
		"synced":      result.Synced,
		"failed":      result.Failed,
		"duration_ms": result.Duration.Milliseconds(),
	})
}
