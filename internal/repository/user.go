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

var ErrNotFound = errors.New("not found")

const userCols = `id, username, email, role, avatar_url, is_online, unread_for_admin, last_seen_at, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Username, &u.Email, &u.Role, &u.AvatarURL, &u.IsOnline, &u.UnreadForAdmin, &u.LastSeenAt, &u.CreatedAt)
}

// Upsert creates or refreshes a user record. Called when the identity service
// registers a session; presence and unread fields are never touched here.
func (r *UserRepository) Upsert(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Upsert", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, username, email, role, avatar_url, last_seen_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)
		 ON CONFLICT (id) DO UPDATE
		 SET username = EXCLUDED.username, email = EXCLUDED.email, role = EXCLUDED.role, avatar_url = EXCLUDED.avatar_url`,
		u.ID, u.Username, u.Email, u.Role, u.AvatarURL, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("userRepo.Upsert: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// FindAdminID returns the id of the admin account (single-admin deployment).
func (r *UserRepository) FindAdminID(ctx context.Context) (string, error) {
	defer logger.DeferLogDuration("user.FindAdminID", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM users WHERE role = 'admin' ORDER BY created_at LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("userRepo.FindAdminID: %w", err)
	}
	return id, nil
}

// ListMembers returns all non-admin users ordered by username (ties by id, so
// the order is stable across refreshes).
func (r *UserRepository) ListMembers(ctx context.Context) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE role = 'member' ORDER BY username, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListMembers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 32)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListMembers scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListMembers rows: %w", err)
	}
	return users, nil
}

// SetOnline flips only the presence fields. Partial update: unread_for_admin
// belongs to a different owner and must never be written here.
func (r *UserRepository) SetOnline(ctx context.Context, userID string, online bool) error {
	defer logger.DeferLogDuration("user.SetOnline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = $2, last_seen_at = $3 WHERE id = $1`,
		userID, online, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("userRepo.SetOnline: %w", err)
	}
	return nil
}

// IncrementUnreadForAdmin bumps the stored unread counter on the member row.
// Partial update for the same reason as SetOnline.
func (r *UserRepository) IncrementUnreadForAdmin(ctx context.Context, memberID string) error {
	defer logger.DeferLogDuration("user.IncrementUnreadForAdmin", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET unread_for_admin = unread_for_admin + 1 WHERE id = $1`,
		memberID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.IncrementUnreadForAdmin: %w", err)
	}
	return nil
}

// ResetUnreadForAdmin sets the counter to zero unconditionally. A message
// appended in the same instant may lose its increment; accepted tradeoff.
func (r *UserRepository) ResetUnreadForAdmin(ctx context.Context, memberID string) error {
	defer logger.DeferLogDuration("user.ResetUnreadForAdmin", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET unread_for_admin = 0 WHERE id = $1`,
		memberID,
	)
	if err != nil {
		return fmt.Errorf("userRepo.ResetUnreadForAdmin: %w", err)
	}
	return nil
}

// ResetAllOnline marks everyone offline; run at startup so statuses left
// stale by a crash do not survive a restart.
func (r *UserRepository) ResetAllOnline(ctx context.Context) error {
	defer logger.DeferLogDuration("user.ResetAllOnline", time.Now())()
	if _, err := r.pool.Exec(ctx, `UPDATE users SET is_online = false`); err != nil {
		return fmt.Errorf("userRepo.ResetAllOnline: %w", err)
	}
	return nil
}
