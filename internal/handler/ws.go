package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/academy/internal/chat"
	"github.com/academy/internal/logger"
	"github.com/academy/internal/middleware"
	"github.com/academy/internal/model"
	"github.com/academy/internal/roster"
	"github.com/academy/internal/ws"
)

// WSHandler upgrades the connection and binds it to a chat session. Admin
// connections additionally get the live roster feed.
type WSHandler struct {
	hub            *ws.Hub
	store          *chat.Store
	convs          chat.ConversationEnsurer
	unread         chat.UnreadResetter
	views          *chat.ActiveViews
	roster         *roster.Roster
	allowedOrigins string
}

// NewWSHandler creates the WebSocket handler. allowedOrigins mirrors the
// CORS list (comma separated, or "*").
func NewWSHandler(hub *ws.Hub, store *chat.Store, convs chat.ConversationEnsurer, unread chat.UnreadResetter, views *chat.ActiveViews, roster *roster.Roster, allowedOrigins string) *WSHandler {
	return &WSHandler{
		hub:            hub,
		store:          store,
		convs:          convs,
		unread:         unread,
		views:          views,
		roster:         roster,
		allowedOrigins: strings.TrimSpace(allowedOrigins),
	}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	role := middleware.GetRole(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var rosterSub *roster.Subscription
	if role == model.RoleAdmin {
		var err error
		rosterSub, err = h.roster.Watch(r.Context())
		if err != nil {
			logger.Errorf("ws roster watch user=%s: %v", userID, err)
			// The connection still works for chatting.
		}
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		if rosterSub != nil {
			rosterSub.Cancel()
		}
		return
	}

	session := chat.NewSession(h.store, h.convs, h.unread, h.views, userID, role)
	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, userID, role, session, rosterSub)
	client.Start(ctx, cancel)
	h.hub.Register(client)
}
