// Package auth provides authentication context helpers.
//
// Authentication itself happens upstream; this service trusts the tenant
// identity it is handed. This package is imported by both middleware and
// handler packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader carries the authenticated tenant's user ID from the upstream
// auth gateway.
const UserIDHeader = "X-User-ID"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// userIDContextKey is the key used to store the authenticated user ID in context.
	userIDContextKey contextKey = "user_id"
)

// GetUserID retrieves the authenticated user ID from the context.
//
// Returns uuid.Nil if no user is authenticated.
//
// Usage:
//
//	userID := auth.GetUserID(r.Context())
//	if userID == uuid.Nil {
//	    // Handle unauthenticated request
//	}
func GetUserID(ctx context.Context) uuid.UUID {
	userID, ok := ctx.Value(userIDContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}

// GetUserIDFromRequest retrieves the authenticated user ID from the request context.
func GetUserIDFromRequest(r *http.Request) uuid.UUID {
	return GetUserID(r.Context())
}

// SetUserID stores a user ID in the context.
//
// This is called by the identity middleware after parsing UserIDHeader.
func SetUserID(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
