package api

import (
	"errors"
	"net/http"

	"github.com/waypost/waypost/internal/auth"
	"github.com/waypost/waypost/internal/middleware"
)

// resolvePrincipal loads the authenticated caller's directory entry. On
// failure it writes the error response and returns false.
func resolvePrincipal(w http.ResponseWriter, r *http.Request, directory *auth.Directory) (*auth.Principal, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return nil, false
	}

	principal, err := directory.Principal(r.Context(), userID)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeUserNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeUserNotFound, "User is not registered")
			return nil, false
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to resolve user")
		return nil, false
	}
	return principal, true
}
