package model

import "time"

// Conversation is the materialized record for a two-party channel between the
// admin and one member. The id is derived from the unordered participant pair
// (see the conversation package), so the record doubles as the participant
// authority for append authorization.
type Conversation struct {
	ID        string    `json:"id"`
	AdminID   string    `json:"admin_id"`
	MemberID  string    `json:"member_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
