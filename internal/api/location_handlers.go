// Package api provides HTTP handlers for the Waypost API.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/feed"
	"github.com/waypost/waypost/internal/location"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/validate"
)

// ReportPositionRequest represents the request body for reporting a position.
type ReportPositionRequest struct {
	Latitude  float64         `json:"latitude"`
	Longitude float64         `json:"longitude"`
	Seq       int64           `json:"seq"`
	Source    location.Source `json:"source,omitempty"`
}

// ReportPositionResponse tells the device whether its write took effect.
type ReportPositionResponse struct {
	Applied  bool `json:"applied"`
	Inserted bool `json:"inserted"`
}

// LocationHandlers holds dependencies for location HTTP handlers.
type LocationHandlers struct {
	locations *location.Store
	feed      *feed.Feed
	directory *auth.Directory
}

// NewLocationHandlers creates a new LocationHandlers instance.
func NewLocationHandlers(locations *location.Store, positionFeed *feed.Feed, directory *auth.Directory) *LocationHandlers {
	return &LocationHandlers{
		locations: locations,
		feed:      positionFeed,
		directory: directory,
	}
}


// ReportPosition handles POST /locations - upserts the caller's position.
func (h *LocationHandlers) ReportPosition(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	var req ReportPositionRequest
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

	result, err := h.locations.Upsert(r.Context(), location.PositionRecord{
		UserID:    principal.UserID,
		TeamID:    principal.TeamID,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		UpdatedAt: time.Now().UTC(),
		Seq:       req.Seq,
	})
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to upsert position", "error", err, "user_id", principal.UserID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to store position")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(ReportPositionResponse{
		Applied:  result.Applied,
		Inserted: result.Inserted,
	}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// ListPositions handles GET /locations - returns the caller's visible
// snapshot, optionally narrowed by user_id, team_id, or lat/lon/radius.
func (h *LocationHandlers) ListPositions(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	filter, err := ParseLocationFilter(r.URL.Query())
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	records, err := h.feed.Snapshot(r.Context(), *principal)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to load visible snapshot", "error", err, "user_id", principal.UserID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to load positions")
		return
	}

	filtered, err := ApplyLocationFilter(filter, records)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to apply location filter", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to filter positions")
		return
	}
	if filtered == nil {
		filtered = []location.PositionRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(filtered); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
