package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/middleware"
	"github.com/waypost/waypost/internal/validate"
)

// RegisterUserRequest represents the request body for registering the caller.
type RegisterUserRequest struct {
	TeamID        string `json:"team_id"`
	CanViewOthers bool   `json:"can_view_others"`
}

// SetVisibilityRequest represents the request body for the consent flag.
type SetVisibilityRequest struct {
	CanViewOthers bool `json:"can_view_others"`
}

// UserHandlers holds dependencies for user directory HTTP handlers.
type UserHandlers struct {
	directory *auth.Directory
}

// NewUserHandlers creates a new UserHandlers instance.
func NewUserHandlers(directory *auth.Directory) *UserHandlers {
	return &UserHandlers{directory: directory}
}

// RegisterUser handles POST /users - registers the authenticated caller in
// the directory with a team and consent flag.
func (h *UserHandlers) RegisterUser(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req RegisterUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}
	teamID, err := validate.TeamID(req.TeamID)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, "team_id is missing or malformed")
		return
	}

	principal := auth.Principal{
		UserID:        userID,
		TeamID:        teamID,
		CanViewOthers: req.CanViewOthers,
	}
	if err := h.directory.Register(r.Context(), principal); err != nil {
		slog.ErrorContext(r.Context(), "failed to register user", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to register user")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(principal); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// GetMe handles GET /users/me - returns the caller's directory entry.
func (h *UserHandlers) GetMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(principal); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}

// SetVisibility handles PATCH /users/me/visibility - updates the caller's
// consent flag. Turning it off narrows only what the caller consumes; their
// own position remains visible to others.
func (h *UserHandlers) SetVisibility(w http.ResponseWriter, r *http.Request) {
	principal, ok := resolvePrincipal(w, r, h.directory)
	if !ok {
		return
	}

	var req SetVisibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := h.directory.SetCanViewOthers(r.Context(), principal.UserID, req.CanViewOthers); err != nil {
		slog.ErrorContext(r.Context(), "failed to update consent flag", "error", err, "user_id", principal.UserID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update consent flag")
		return
	}

	principal.CanViewOthers = req.CanViewOthers
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(principal); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode response", "error", err)
	}
}
