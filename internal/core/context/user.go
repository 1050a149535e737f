// Package context provides request-scoped values extraction.
package context

import (
	"context"
	"strings"
)

// UserContext identifies who is acting on the ledger. Authentication happens
// upstream; the API only receives the resolved user.
type UserContext struct {
	UserID      string
	DisplayName string
}

type userContextKey struct{}

// SystemActor is recorded on movements created by background jobs and seeds.
const SystemActor = "system"

// WithUser adds UserContext to context.
func WithUser(ctx context.Context, user *UserContext) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// GetUser returns UserContext from context.
func GetUser(ctx context.Context) *UserContext {
	if v, ok := ctx.Value(userContextKey{}).(*UserContext); ok {
		return v
	}
	return nil
}

// GetUserID returns user ID from context or empty string.
func GetUserID(ctx context.Context) string {
	if u := GetUser(ctx); u != nil {
		return u.UserID
	}
	return ""
}

// ResolveActor picks the explicit actor if given, then the request user, then SystemActor.
func ResolveActor(ctx context.Context, explicit string) string {
	if a := strings.TrimSpace(explicit); a != "" {
		return a
	}
	if uid := GetUserID(ctx); uid != "" {
		return uid
	}
	return SystemActor
}
