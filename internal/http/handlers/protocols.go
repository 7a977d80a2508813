package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/havenpoint/crisis-response-platform/internal/crisis"
	"github.com/havenpoint/crisis-response-platform/internal/protocol"
	"github.com/havenpoint/crisis-response-platform/pkg/logging"
)

// ProtocolHandler exposes protocol instance operations.
type ProtocolHandler struct {
	service *crisis.Service
	logger  *logging.Logger
}

func NewProtocolHandler(service *crisis.Service, logger *logging.Logger) *ProtocolHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ProtocolHandler{service: service, logger: logger}
}

// RespondRequest carries a user response back into a suspended instance.
type RespondRequest struct {
	Outcome  string `json:"outcome"`
	Response string `json:"response,omitempty"`
}

// Respond advances a suspended instance.
// POST /v1/protocols/{instanceID}/respond
func (h *ProtocolHandler) Respond(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	state, err := h.service.Respond(r.Context(), instanceID, req.Outcome, req.Response)
	if err != nil {
		h.writeProtocolError(w, instanceID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Cancel terminates an active instance.
// POST /v1/protocols/{instanceID}/cancel
func (h *ProtocolHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	state, err := h.service.Cancel(r.Context(), instanceID)
	if err != nil {
		h.writeProtocolError(w, instanceID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// Get returns one instance.
// GET /v1/protocols/{instanceID}
func (h *ProtocolHandler) Get(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")

	state, err := h.service.Instance(r.Context(), instanceID)
	if err != nil {
		h.writeProtocolError(w, instanceID, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// ListForUser returns a user's instances.
// GET /v1/users/{userID}/protocols
func (h *ProtocolHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	states, err := h.service.UserInstances(r.Context(), userID)
	if err != nil {
		h.logger.Error("protocol list failed", "user_id", userID, "error", err)
		jsonError(w, "failed to list protocols", http.StatusInternalServerError)
		return
	}
	if states == nil {
		states = []*protocol.ProtocolState{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"protocols": states})
}

func (h *ProtocolHandler) writeProtocolError(w http.ResponseWriter, instanceID string, err error) {
	switch {
	case errors.Is(err, protocol.ErrInstanceNotFound):
		jsonError(w, "protocol instance not found", http.StatusNotFound)
	case errors.Is(err, protocol.ErrInstanceTerminal):
		jsonError(w, "protocol instance is no longer active", http.StatusConflict)
	default:
		h.logger.Error("protocol operation failed", "instance_id", instanceID, "error", err)
		jsonError(w, "protocol operation failed", http.StatusInternalServerError)
	}
}
