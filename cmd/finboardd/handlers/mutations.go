package handlers

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/finboard/finboard/internal/errors"
	"github.com/finboard/finboard/internal/offline"
)

// MutationHandler accepts dashboard mutations and routes them through the
// offline-aware facade.
type MutationHandler struct {
	facade *offline.Facade
}

// NewMutationHandler creates a MutationHandler.
func NewMutationHandler(facade *offline.Facade) *MutationHandler {
	return &MutationHandler{facade: facade}
}

type mutationRequest struct {
	Method  string                 `json:"method"`
	URL     string                 `json:"url"`
	Payload map[string]interface{} `json:"payload"`
}

// Perform handles POST /api/mutations. Online, the mutation is applied
// directly; offline, it is queued. Either way the response names the views
// the client should re-fetch.
func (h *MutationHandler) Perform(w http.ResponseWriter, r *http.Request) {
	var req mutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalidConfig, "invalid request body", err))
		return
	}
	if req.Method == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error": map[string]interface{}{
				"code":    "BAD_REQUEST",
				"message": "method and url are required",
			},
		})
		return
	}

	out, err := h.facade.Perform(r.Context(), &offline.Request{
		Method:  req.Method,
		URL:     req.URL,
		Payload: req.Payload,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	body := map[string]interface{}{
		"queued":      out.Queued,
		"stale_views": out.StaleViews.Keys(),
	}
	status := http.StatusOK
	if out.Queued {
		status = http.StatusAccepted
		body["mutation_id"] = out.MutationID
	} else if out.Response != nil {
		body["status_code"] = out.Response.StatusCode
	}

	writeJSON(w, status, body)
}
