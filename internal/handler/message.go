package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/academy/internal/chat"
	"github.com/academy/internal/conversation"
	"github.com/academy/internal/logger"
	"github.com/academy/internal/middleware"
)

type MessageHandler struct {
	store *chat.Store
}

func NewMessageHandler(store *chat.Store) *MessageHandler {
	return &MessageHandler{store: store}
}

// ListMessages returns the full ordered thread for a conversation.
// GET /api/conversations/{id}/messages. Participation is checked against the
// conversation id itself; a thread that does not exist yet is an empty list.
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	defer logger.DeferLogDuration("message.ListMessages", time.Now())()
	convID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if !conversation.IsParticipant(convID, userID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	msgs, err := h.store.FetchOnce(r.Context(), convID)
	if err != nil {
		logger.Errorf("list messages conv=%s user=%s: %v", convID, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}
