package auth

import (
	"context"
)

type ctxKey string

const (
	identityKey ctxKey = "identity"
)

// Identity is the caller resolved from the request's session header.
type Identity struct {
	SessionID string
	IsAdmin   bool
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the caller identity, or the zero Identity when the
// request did not pass through RequireSession.
func FromContext(ctx context.Context) Identity {
	if v, ok := ctx.Value(identityKey).(Identity); ok {
		return v
	}
	return Identity{}
}

func SessionID(ctx context.Context) string {
	return FromContext(ctx).SessionID
}
