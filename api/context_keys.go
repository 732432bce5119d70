package api

import (
	"context"

	"redtrace/core"
)

// contextKey is a private type to prevent context key collisions across
// packages. Only this package can create keys, so request identity cannot be
// spoofed by string-keyed context values.
type contextKey string

const (
	// ContextKeyUsername stores the authenticated username (string)
	ContextKeyUsername contextKey = "username"

	// ContextKeyRole stores the user's role (core.Role)
	ContextKeyRole contextKey = "role"

	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"
)

// WithUsername stores the username in the context
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

// WithRole stores the role in the context
func WithRole(ctx context.Context, role core.Role) context.Context {
	return context.WithValue(ctx, ContextKeyRole, role)
}

// WithRequestID stores the request id in the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// GetUsername extracts the username from the context
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(ContextKeyUsername).(string)
	return username, ok
}

// GetRole extracts the role from the context
func GetRole(ctx context.Context) (core.Role, bool) {
	role, ok := ctx.Value(ContextKeyRole).(core.Role)
	return role, ok
}

// GetRequestID extracts the request id from the context
func GetRequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ContextKeyRequestID).(string)
	return id, ok
}

// callerFromContext builds the caller identity used by the service layer.
// ok is false when the request was never authenticated.
func callerFromContext(ctx context.Context) (core.Caller, bool) {
	username, ok := GetUsername(ctx)
	if !ok {
		return core.Caller{}, false
	}
	role, ok := GetRole(ctx)
	if !ok {
		return core.Caller{}, false
	}
	return core.Caller{Username: username, Role: role}, true
}
