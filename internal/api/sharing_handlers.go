package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/sharing"
	"github.com/waypost/waypost/internal/validate"
)

// CreateShareRequest represents the request body for creating a sharing edge.
type CreateShareRequest struct {
	ToTeam string `json:"to_team"`
}

// SharingHandlers holds dependencies for sharing HTTP handlers.
type SharingHandlers struct {
	registry  *sharing.Registry
	directory *auth.Directory
}

// NewSharingHandlers creates a new SharingHandlers instance.
func NewSharingHandlers(registry *sharing.Registry, directory *auth.Directory) *SharingHandlers {
	return &SharingHandlers{
		registry:  registry,
		directory: directory,
	}
}

// CreateShare handles POST /sharing - grants the caller's team's visibility
// to another team. Sharing the same pair twice returns the existing edge.
func (h *SharingHandlers) CreateShare(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	var req CreateShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	toTeam, err := validate.TeamID(req.ToTeam)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "to_team is missing or malformed")
		return
	}

	edge, err := h.registry.Share(r.Context(), principal.TeamID, toTeam)
	if err != nil {
		if errors.Is(err, sharing.ErrSelfEdge) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeSelfShare)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeSelfShare, "A team always sees itself")
			return
		}
		slog.ErrorContext(r.Context(), "failed to create sharing edge", "error", err,
			"from_team", principal.TeamID, "to_team", req.ToTeam)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create sharing edge")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(edge); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// ListShares handles GET /sharing - lists the edges granted by the caller's
// team.
func (h *SharingHandlers) ListShares(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	edges, err := h.registry.Edges(r.Context(), principal.TeamID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list sharing edges", "error", err, "from_team", principal.TeamID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to list sharing edges")
		return
	}
	if edges == nil {
		edges = []sharing.Edge{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(edges); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// DeleteShare handles DELETE /sharing/{id} - revokes a sharing edge granted
// by the caller's team.
func (h *SharingHandlers) DeleteShare(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	pathParts := strings.Split(strings.TrimPrefix(r.URL.Path, "/sharing/"), "/")
	if len(pathParts) == 0 || pathParts[0] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Edge ID is required")
		return
	}
	edgeID := pathParts[0]

	// Only the granting team may revoke its own edge.
	edges, err := h.registry.Edges(r.Context(), principal.TeamID)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to list sharing edges", "error", err, "from_team", principal.TeamID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to verify edge ownership")
		return
	}
	owned := false
	for _, edge := range edges {
		if edge.ID == edgeID {
			owned = true
			break
		}
	}
	if !owned {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeEdgeNotFound)
		WriteError(w, ctx, http.StatusNotFound, ErrCodeEdgeNotFound, "Edge not found")
		return
	}

	if err := h.registry.Unshare(r.Context(), edgeID); err != nil {
		if errors.Is(err, sharing.ErrEdgeNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeEdgeNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeEdgeNotFound, "Edge not found")
			return
		}
		slog.ErrorContext(r.Context(), "failed to delete sharing edge", "error", err, "edge_id", edgeID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to delete sharing edge")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
