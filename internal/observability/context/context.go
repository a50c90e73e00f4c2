package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type actorKey struct{}

type actor struct {
	Type string
	ID   string
	Role string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, strings.TrimSpace(requestID))
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey{}).(string); ok {
		return v
	}
	return ""
}

// WithActor records who is acting for logging and audit. Role is optional.
func WithActor(ctx context.Context, actorType, actorID string, role ...string) context.Context {
	a := actor{Type: strings.TrimSpace(actorType), ID: strings.TrimSpace(actorID)}
	if len(role) > 0 {
		a.Role = strings.TrimSpace(role[0])
	}
	return context.WithValue(ctx, actorKey{}, a)
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		return a.Type, a.ID
	}
	return "", ""
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if a, ok := ctx.Value(actorKey{}).(actor); ok {
		return a.Role
	}
	return ""
}
