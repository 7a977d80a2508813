package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/havenpoint/crisis-response-platform/internal/crisis"
	"github.com/havenpoint/crisis-response-platform/internal/risk"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// AssessHandler fronts the crisis service's assessment entry point.
type AssessHandler struct {
	service *crisis.Service
	logger  *logging.Logger
}

func NewAssessHandler(service *crisis.Service, logger *logging.Logger) *AssessHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AssessHandler{service: service, logger: logger}
}

// AssessRequest is the request body for a risk assessment.
type AssessRequest struct {
	Text      string              `json:"text"`
	Context   *risk.CrisisContext `json:"context,omitempty"`
	UserID    string              `json:"user_id,omitempty"`
	SessionID string              `json:"session_id,omitempty"`
}

// Assess runs a risk assessment and any triggered protocol work.
// POST /v1/assess
func (h *AssessHandler) Assess(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		jsonError(w, crisis.ErrEmptyText.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.Assess(r.Context(), req.Text, req.Context, req.UserID, req.SessionID)
	if err != nil {
		h.logger.Error("assessment failed", "error", err)
		jsonError(w, "assessment failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
