package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/speedcam/internal/app"
)

// Controller is the pipeline surface the status endpoint needs.
type Controller interface {
	Status() app.Status
	SetEnabled(enabled bool) error
}

// StatusHandler serves and toggles the pipeline state.
type StatusHandler struct {
	ctrl Controller
}

// NewStatusHandler creates a StatusHandler for ctrl.
func NewStatusHandler(ctrl Controller) *StatusHandler {
	return &StatusHandler{ctrl: ctrl}
}

type setStatusRequest struct {
	Enabled *bool `json:"enabled"`
}

// ServeHTTP handles GET and PUT /api/status.
func (h *StatusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	case http.MethodPut:
		var req setStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "Body must be {\"enabled\": true|false}")
			return
		}
		if err := h.ctrl.SetEnabled(*req.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to save setting")
			return
		}
		writeJSON(w, http.StatusOK, h.ctrl.Status())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
