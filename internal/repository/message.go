package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Insert appends the message and fills m.Seq with the database-assigned
// insertion order. Messages are append-only; there is no update path.
func (r *MessageRepository) Insert(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Insert", time.Now())()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, text, attachment_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		m.ID, m.ConversationID, m.SenderID, m.Text, m.AttachmentURL, m.CreatedAt,
	).Scan(&m.Seq)
	if err != nil {
		return fmt.Errorf("msgRepo.Insert: %w", err)
	}
	return nil
}

// ListByConversation returns the full message log of one conversation in
// delivery order: ascending created_at, ties broken by insertion order.
func (r *MessageRepository) ListByConversation(ctx context.Context, convID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.text, m.attachment_url, m.seq, m.created_at,
		        u.id, u.username, u.role, u.avatar_url, u.is_online, u.last_seen_at
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1
		 ORDER BY m.created_at, m.seq`, convID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Text, &m.AttachmentURL, &m.Seq, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.Role, &sender.AvatarURL, &sender.IsOnline, &sender.LastSeenAt); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByConversation scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation rows: %w", err)
	}
	return messages, nil
}
