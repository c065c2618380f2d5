package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// Ensure materializes the conversation record if it does not exist yet.
// Safe to call on every open; concurrent opens race benignly on the insert.
func (r *ConversationRepository) Ensure(ctx context.Context, c *model.Conversation) error {
	defer logger.DeferLogDuration("conv.Ensure", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO conversations (id, admin_id, member_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $4) ON CONFLICT (id) DO NOTHING`,
		c.ID, c.AdminID, c.MemberID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("convRepo.Ensure: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, admin_id, member_id, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&c.ID, &c.AdminID, &c.MemberID, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// IsParticipant reports whether userID is one of the two members of the
// materialized conversation. Unknown conversations are nobody's.
func (r *ConversationRepository) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsParticipant", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversations WHERE id = $1 AND (admin_id = $2 OR member_id = $2))`,
		convID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsParticipant: %w", err)
	}
	return exists, nil
}

// Touch bumps updated_at after an append.
func (r *ConversationRepository) Touch(ctx context.Context, convID string, at time.Time) error {
	defer logger.DeferLogDuration("conv.Touch", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`, convID, at,
	)
	if err != nil {
		return fmt.Errorf("convRepo.Touch: %w", err)
	}
	return nil
}
