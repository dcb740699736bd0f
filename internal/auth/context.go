// ABOUTME: Authenticated identity carried on socket requests
// ABOUTME: WithIdentity/FromContext propagate the caller and its relationship scope

package auth

import (
	"context"
	"slices"
)

// Identity is the authenticated caller of a socket connection.
type Identity struct {
	UserID        string
	Relationships []string
}

// CanJoin reports whether the caller may enter the shared session for relationshipID.
func (id *Identity) CanJoin(relationshipID string) bool {
	return len(id.Relationships) == 0 || slices.Contains(id.Relationships, relationshipID)
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the caller, or nil on unauthenticated requests.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey{}).(*Identity)
	return id
}
