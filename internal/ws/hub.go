package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/academy/internal/chat"
	"github.com/academy/internal/logger"
)

// PresenceTracker is told about first-connection / last-disconnection
// transitions.
type PresenceTracker interface {
	MarkOnline(ctx context.Context, userID string)
	MarkOffline(ctx context.Context, userID string)
}

// Hub tracks live connections per user. A user may hold several connections
// (tabs); presence flips on the first and the last one only.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int

	presence PresenceTracker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(presence PresenceTracker, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		presence:   presence,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	firstConn := false
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
		firstConn = true
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	if firstConn {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.presence.MarkOnline(ctx, c.userID)
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastClient := len(clients) == 0
	if lastClient {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()

	if lastClient {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.presence.MarkOffline(ctx, c.userID)
	}
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventOpenConversation:
		h.handleOpen(ctx, c, msg)
	case EventSendMessage:
		h.handleSend(ctx, c, msg)
	case EventCloseConversation:
		c.session.Close()
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleOpen(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleOpen", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.session.Open(ctx, msg.OtherID); err != nil {
		if errors.Is(err, chat.ErrBadParticipant) {
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "invalid participant"})
			return
		}
		logger.Errorf("ws open other=%s user=%s: %v", msg.OtherID, c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to open conversation"})
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.session.Send(ctx, msg.Text, msg.AttachmentURL)
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNotActive):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "no open conversation"})
	case errors.Is(err, chat.ErrInvalidPayload):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message needs either text or an attachment"})
	case errors.Is(err, chat.ErrNotParticipant):
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "not a participant"})
	default:
		logger.Errorf("ws send user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to send message"})
	}
}

// BroadcastStatus tells every other connected user about a presence change.
func (h *Hub) BroadcastStatus(userID string, online bool) {
	evType := EventUserOffline
	if online {
		evType = EventUserOnline
	}
	out := OutgoingMessage{Type: evType, Payload: UserStatusPayload{UserID: userID, Online: online}}

	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for uid, clients := range h.clients {
		if uid == userID {
			continue
		}
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, out)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
