package model

import "time"

// Message is one immutable chat message. Exactly one of Text/AttachmentURL is
// populated (enforced at payload construction and by a DB check constraint).
// CreatedAt is assigned by the server-side clock, never by clients; Seq is the
// insertion order assigned by the database and breaks CreatedAt ties.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversation_id"`
	SenderID       string      `json:"sender_id"`
	Text           string      `json:"text,omitempty"`
	AttachmentURL  string      `json:"attachment_url,omitempty"`
	Seq            int64       `json:"seq"`
	CreatedAt      time.Time   `json:"created_at"`
	Sender         *UserPublic `json:"sender,omitempty"`
}
