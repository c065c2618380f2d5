package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/academy/internal/middleware"
	"github.com/academy/internal/model"
	"github.com/academy/internal/repository"
	"github.com/academy/internal/roster"
)

type UserHandler struct {
	users  *repository.UserRepository
	roster *roster.Roster
}

func NewUserHandler(users *repository.UserRepository, roster *roster.Roster) *UserHandler {
	return &UserHandler{users: users, roster: roster}
}

func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user.ToPublic())
}

// GetRoster returns the member list with presence and unread counters.
// Admin only; the live feed goes over the WebSocket, this is the one-shot
// variant for the initial page render.
func (h *UserHandler) GetRoster(w http.ResponseWriter, r *http.Request) {
	if middleware.GetRole(r.Context()) != model.RoleAdmin {
		writeError(w, http.StatusForbidden, "admin only")
		return
	}
	entries, err := h.roster.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list members")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
