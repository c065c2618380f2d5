package storage

import (
	"context"
	"errors"

	"github.com/academy/internal/model"
)

// ErrNoSession is returned when a session id is unknown or expired.
var ErrNoSession = errors.New("session not found")

// SessionClaims is the identity the platform attached to a session when it
// registered the login with this service.
type SessionClaims struct {
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

// SessionStore keeps session id -> claims mappings.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionStore interface {
	SetSession(ctx context.Context, sessionID string, claims SessionClaims) error
	GetSession(ctx context.Context, sessionID string) (SessionClaims, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
