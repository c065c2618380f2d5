package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/storage"
)

// SessionAuth resolves the platform session id (X-Session-Id header, or
// session_id query for WebSocket upgrades where custom headers are not
// available) to the claims the identity service registered. Unknown or
// expired sessions get 401.
func SessionAuth(store storage.SessionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sessionID := r.Header.Get("X-Session-Id")
			if sessionID == "" {
				sessionID = r.URL.Query().Get("session_id")
			}
			if sessionID == "" {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			claims, err := store.GetSession(r.Context(), sessionID)
			if err != nil {
				if !errors.Is(err, storage.ErrNoSession) {
					logger.Errorf("session middleware session_id=%s: %v", MaskSessionID(sessionID), err)
				}
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = context.WithValue(ctx, SessionIDKey, sessionID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
