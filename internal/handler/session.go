package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/middleware"
	"github.com/academy/internal/model"
	"github.com/academy/internal/repository"
	"github.com/academy/internal/storage"
)

// Presence lets logout flip the online flag without waiting for the socket
// to drop.
type Presence interface {
	MarkOffline(ctx context.Context, userID string)
}

// SessionHandler wires the platform's identity service to this subsystem.
// Logins are registered over the internal surface; the public DELETE tears a
// session down on logout.
type SessionHandler struct {
	users    *repository.UserRepository
	sessions storage.SessionStore
	presence Presence
}

func NewSessionHandler(users *repository.UserRepository, sessions storage.SessionStore, presence Presence) *SessionHandler {
	return &SessionHandler{users: users, sessions: sessions, presence: presence}
}

// RegisterRequest is what the identity service posts after a login.
type RegisterRequest struct {
	SessionID string `json:"session_id"`
	User      struct {
		ID        string `json:"id"`
		Username  string `json:"username"`
		Email     string `json:"email"`
		Role      string `json:"role"`
		AvatarURL string `json:"avatar_url"`
	} `json:"user"`
}

// Register upserts the user record and stores the session claims.
// POST /internal/sessions, reachable only from the platform network.
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("session.Register", time.Now())()
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.User.ID = strings.TrimSpace(req.User.ID)
	if req.SessionID == "" || req.User.ID == "" {
		writeError(w, http.StatusBadRequest, "session_id and user.id required")
		return
	}
	role := model.Role(req.User.Role)
	if role != model.RoleAdmin && role != model.RoleMember {
		writeError(w, http.StatusBadRequest, "role must be admin or member")
		return
	}

	u := &model.User{
		ID:        req.User.ID,
		Username:  req.User.Username,
		Email:     req.User.Email,
		Role:      role,
		AvatarURL: req.User.AvatarURL,
	}
	if err := h.users.Upsert(r.Context(), u); err != nil {
		logger.Errorf("session register upsert user=%s: %v", u.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to register user")
		return
	}
	claims := storage.SessionClaims{UserID: u.ID, Role: role}
	if err := h.sessions.SetSession(r.Context(), req.SessionID, claims); err != nil {
		logger.Errorf("session register store session_id=%s: %v", middleware.MaskSessionID(req.SessionID), err)
		writeError(w, http.StatusInternalServerError, "failed to store session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Logout removes the caller's session and marks them offline right away.
// DELETE /api/session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("session.Logout", time.Now())()
	sessionID := middleware.GetSessionID(r.Context())
	userID := middleware.GetUserID(r.Context())
	if err := h.sessions.DeleteSession(r.Context(), sessionID); err != nil {
		logger.Errorf("session logout session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		writeError(w, http.StatusInternalServerError, "failed to log out")
		return
	}
	h.presence.MarkOffline(r.Context(), userID)
	w.WriteHeader(http.StatusNoContent)
}
