// Package handlers provides the REST admin surface over the mutation queue
// and sync engine.
package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/logging"
	"github.com/finboard/finboard/internal/offline"
)

// QueueHandler serves queue inspection and administration endpoints.
type QueueHandler struct {
	facade *offline.Facade
}

// NewQueueHandler creates a QueueHandler.
func NewQueueHandler(facade *offline.Facade) *QueueHandler {
	return &QueueHandler{facade: facade}
}

// List handles GET /api/queue: every record awaiting sync, in replay order.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	pending, err := h.facade.GetPendingMutations()
	if err != nil {
		writeError(w, err)
		return
	}

	size, err := h.facade.GetQueueSize()
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mutations": pending,
		"size":      size,
	})
}

// Stats handles GET /api/queue/stats: per-status record counts.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.facade.GetQueueStats()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Clear handles DELETE /api/queue: drops every record.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.facade.Clear(); err != nil {
		writeError(w, err)
		return
	}

	logging.Warn("Mutation queue cleared via API", nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"cleared": true})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error("Failed to encode response", err, nil)
	}
}

// writeError maps application error codes to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperrors.Code(err) {
	case apperrors.ErrQueueFull:
		status = http.StatusTooManyRequests
	case apperrors.ErrUnclassifiedMutation:
		status = http.StatusUnprocessableEntity
	case apperrors.ErrSyncOffline, apperrors.ErrSyncInProgress:
		status = http.StatusConflict
	case apperrors.ErrTransportFailure:
		status = http.StatusBadGateway
	case apperrors.ErrInvalidConfig:
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(apperrors.Code(err)),
			"message": err.Error(),
		},
	})
}
