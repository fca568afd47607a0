package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/terra-clan/focus-engine/internal/auth"
	"github.com/terra-clan/focus-engine/internal/models"
)

// ProfileProvisioner creates an empty profile for a first-time user
type ProfileProvisioner interface {
	EnsureProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// AuthMiddleware verifies bearer tokens
type AuthMiddleware struct {
	verifier    auth.TokenVerifier
	provisioner ProfileProvisioner
}

// NewAuthMiddleware creates new auth middleware. provisioner may be nil.
func NewAuthMiddleware(verifier auth.TokenVerifier, provisioner ProfileProvisioner) *AuthMiddleware {
	return &AuthMiddleware{verifier: verifier, provisioner: provisioner}
}

// Authenticate verifies the bearer token from the Authorization header
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return m.authenticate(next, false)
}

// AuthenticateWithQuery also accepts the token in the access_token query
// parameter, since browsers cannot set headers on WebSocket upgrades.
func (m *AuthMiddleware) AuthenticateWithQuery(next http.Handler) http.Handler {
	return m.authenticate(next, true)
}

func (m *AuthMiddleware) authenticate(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r, allowQuery)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		id, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			slog.Warn("token verification failed", "error", err, "remote_addr", r.RemoteAddr)
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if m.provisioner != nil {
			if _, err := m.provisioner.EnsureProfile(r.Context(), id.UserID); err != nil {
				slog.Error("failed to provision profile", "error", err, "user", id.MaskedUserID())
				respondError(w, http.StatusInternalServerError, "profile provisioning failed")
				return
			}
		}

		slog.Debug("authenticated request", "user", id.MaskedUserID())

		ctx := ContextWithIdentity(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken extracts the bearer token from request headers, then the query if allowed
func extractToken(r *http.Request, allowQuery bool) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	if allowQuery {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
