package ws

import (
	"github.com/academy/internal/model"
	"github.com/academy/internal/roster"
)

type EventType string

const (
	// Client -> server.
	EventOpenConversation  EventType = "open_conversation"
	EventSendMessage       EventType = "send_message"
	EventCloseConversation EventType = "close_conversation"

	// Server -> client.
	EventMessageList  EventType = "message_list"
	EventRosterUpdate EventType = "roster_update"
	EventUserOnline   EventType = "user_online"
	EventUserOffline  EventType = "user_offline"
	EventError        EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type EventType `json:"type"`

	// For open_conversation: the other participant.
	OtherID string `json:"other_id,omitempty"`

	// For send_message: exactly one of text / attachment_url.
	Text          string `json:"text,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// MessageListPayload carries the full ordered thread; the client replaces
// its rendered list wholesale.
type MessageListPayload struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

// RosterPayload carries the admin's full member list.
type RosterPayload struct {
	Members []roster.Entry `json:"members"`
}

// UserStatusPayload is broadcast for online/offline transitions.
type UserStatusPayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}
