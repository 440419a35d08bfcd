package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/arinzecomie/livechat-relay/internal/auth"
	"github.com/arinzecomie/livechat-relay/internal/models"
)

type contextKey string

const PrincipalContextKey contextKey = "principal"

// AuthMiddleware verifies bearer credentials on the HTTP API.
type AuthMiddleware struct {
	authn auth.Authenticator
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(authn auth.Authenticator) *AuthMiddleware {
	return &AuthMiddleware{authn: authn}
}

// RequireSiteAdmin admits only admins of the site named by the {siteID} route parameter.
func (m *AuthMiddleware) RequireSiteAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get("Authorization")
		if token == "" {
			jsonError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		p, err := m.authn.Authenticate(r.Context(), auth.Credentials{Token: token})
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if p.Role != models.RoleAdmin {
			jsonError(w, http.StatusForbidden, "admin role required")
			return
		}
		if siteID := chi.URLParam(r, "siteID"); siteID != "" && siteID != p.SiteID {
			jsonError(w, http.StatusForbidden, "credentials belong to another site")
			return
		}

		ctx := context.WithValue(r.Context(), PrincipalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetPrincipalFromContext retrieves the authenticated principal from the request context.
func GetPrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(models.Principal)
	return p, ok
}
