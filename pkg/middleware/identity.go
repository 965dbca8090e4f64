// Package middleware provides request-context helpers shared by the HTTP
// layer and anything embedding it.
package middleware

import (
	"context"

	"github.com/leadgate/leadgate/pkg/contracts"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity stores the authenticated Identity in the context.
func SetIdentity(ctx context.Context, identity *contracts.Identity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, identityKey, identity)
}

// GetIdentity returns the Identity set by the auth middleware, or nil for
// anonymous requests (auth disabled).
func GetIdentity(ctx context.Context) *contracts.Identity {
	if v, ok := ctx.Value(identityKey).(*contracts.Identity); ok {
		return v
	}
	return nil
}
