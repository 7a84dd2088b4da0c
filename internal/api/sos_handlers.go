package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/waypost/waypost/internal/alert"
	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/validate"
)

// BroadcastSosRequest represents the request body for broadcasting an SOS.
type BroadcastSosRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SosHandlers holds dependencies for SOS HTTP handlers.
type SosHandlers struct {
	channel   *alert.Channel
	directory *auth.Directory
}

// NewSosHandlers creates a new SosHandlers instance.
func NewSosHandlers(channel *alert.Channel, directory *auth.Directory) *SosHandlers {
	return &SosHandlers{
		channel:   channel,
		directory: directory,
	}
}

// BroadcastSos handles POST /sos - broadcasts an emergency event at the
// caller's position. Broadcasting is never gated by the consent flag.
func (h *SosHandlers) BroadcastSos(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	var req BroadcastSosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	if err := validate.Coordinate(req.Latitude, req.Longitude); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinate)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinate, err.Error())
		return
	}

	event, err := h.channel.Broadcast(r.Context(), principal.UserID, principal.TeamID, req.Latitude, req.Longitude)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to broadcast sos", "error", err, "user_id", principal.UserID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to broadcast SOS")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(event); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// ListSos handles GET /sos - returns the active events the caller may read,
// most recent first.
func (h *SosHandlers) ListSos(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	events, err := h.channel.Events(r.Context(), *principal)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list sos events", "error", err, "user_id", principal.UserID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list SOS events")
		return
	}
	if events == nil {
		events = []alert.SosEvent{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(events); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
