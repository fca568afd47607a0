package api

import (
	"context"

	"github.com/terra-clan/focus-engine/internal/models"
)

type contextKey string

const identityContextKey contextKey = "identity"

// IdentityFromContext extracts the verified caller from context
func IdentityFromContext(ctx context.Context) *models.Identity {
	id, ok := ctx.Value(identityContextKey).(*models.Identity)
	if !ok {
		return nil
	}
	return id
}

// UserIDFromContext returns the profile id of an authenticated caller, or ""
// when the request carries no identity or a non-user role. Awards and profile
// reads are keyed on this value only.
func UserIDFromContext(ctx context.Context) string {
	id := IdentityFromContext(ctx)
	if id == nil || !id.IsAuthenticatedUser() {
		return ""
	}
	return id.UserID
}

// ContextWithIdentity adds the verified caller to context
func ContextWithIdentity(ctx context.Context, id *models.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
