package middleware

import (
	"net/http"
	"strings"

	"github.com/waypost/waypost/internal/auth"
)

// TokenValidator validates a bearer token and returns its claims.
// *auth.JWTService satisfies this interface.
type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Auth is a middleware that requires a valid Bearer token on every request.
// On success it stores the token subject as the user ID in the request context;
// on failure it responds 401 without calling the next handler.
func Auth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="waypost"`)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			ctx := SetUserID(r.Context(), claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
