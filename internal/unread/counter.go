package unread

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/academy/internal/conversation"
	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
)

const opTimeout = 5 * time.Second

// UserCounterRepo is the slice of the user repository the counter writes
// through.
type UserCounterRepo interface {
	IncrementUnreadForAdmin(ctx context.Context, memberID string) error
	ResetUnreadForAdmin(ctx context.Context, memberID string) error
}

// Viewing reports whether a user currently has a conversation open.
type Viewing interface {
	IsViewing(userID, convID string) bool
}

// AdminDirectory resolves the admin account id.
type AdminDirectory interface {
	AdminID(ctx context.Context) (string, error)
}

// Counter maintains the per-member unread counter seen by the admin roster.
// Only messages addressed to the admin are counted; a member's own unread
// state lives client side and is not persisted.
type Counter struct {
	repo   UserCounterRepo
	views  Viewing
	admins AdminDirectory

	mu       sync.Mutex
	onChange []func(memberID string)
}

func NewCounter(repo UserCounterRepo, views Viewing, admins AdminDirectory) *Counter {
	return &Counter{repo: repo, views: views, admins: admins}
}

// OnChange registers a callback invoked after the counter for memberID
// changes. Callbacks must not block.
func (c *Counter) OnChange(fn func(memberID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// OnMessageAppended is wired as a message store observer. When the message is
// addressed to the admin and the admin does not have that conversation open,
// the stored counter on the sender's row is bumped.
func (c *Counter) OnMessageAppended(m model.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	adminID, err := c.admins.AdminID(ctx)
	if err != nil {
		logger.Error(fmt.Errorf("unread.OnMessageAppended admin lookup: %w", err))
		return
	}

	recipient, ok := conversation.Other(m.ConversationID, m.SenderID)
	if !ok {
		logger.Error(fmt.Errorf("unread.OnMessageAppended: malformed conversation id %q", m.ConversationID))
		return
	}
	if recipient != adminID {
		return
	}
	if c.views.IsViewing(adminID, m.ConversationID) {
		return
	}

	if err := c.repo.IncrementUnreadForAdmin(ctx, m.SenderID); err != nil {
		logger.Error(fmt.Errorf("unread.OnMessageAppended increment: %w", err))
		return
	}
	c.notify(m.SenderID)
}

// Reset zeroes the counter for memberID. Unconditional: a message landing in
// the same instant may lose its increment, which matches opening the thread
// and seeing everything.
func (c *Counter) Reset(ctx context.Context, memberID string) error {
	if err := c.repo.ResetUnreadForAdmin(ctx, memberID); err != nil {
		return fmt.Errorf("unread.Reset: %w", err)
	}
	c.notify(memberID)
	return nil
}

func (c *Counter) notify(memberID string) {
	c.mu.Lock()
	fns := append([]func(string){}, c.onChange...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(memberID)
	}
}
