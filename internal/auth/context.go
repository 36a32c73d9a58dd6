// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext and the acting-as check used by handlers

package auth

import (
	"context"
	"errors"
)

// ErrForbidden is returned when a request acts on behalf of another user
var ErrForbidden = errors.New("forbidden")

// AuthContext holds the authenticated identity extracted from a request
type AuthContext struct {
	UserID   string
	Username string
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}

// CheckActingAs returns ErrForbidden if the context is authenticated as a
// different user than userID. Unauthenticated contexts pass: they only
// occur when the gateway runs without a jwt secret.
func CheckActingAs(ctx context.Context, userID string) error {
	authCtx := FromContext(ctx)
	if authCtx == nil {
		return nil
	}
	if authCtx.UserID != userID {
		return ErrForbidden
	}
	return nil
}
