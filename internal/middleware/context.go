package middleware

import (
	"context"

	"github.com/academy/internal/model"
)

type contextKey string

const (
	UserIDKey    contextKey = "user_id"
	RoleKey      contextKey = "role"
	SessionIDKey contextKey = "session_id"
)

// GetUserID returns the user_id from the context (set by SessionAuth).
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

// GetRole returns the caller's role from the context (set by SessionAuth).
func GetRole(ctx context.Context) model.Role {
	v, _ := ctx.Value(RoleKey).(model.Role)
	return v
}

func GetSessionID(ctx context.Context) string {
	v, _ := ctx.Value(SessionIDKey).(string)
	return v
}
