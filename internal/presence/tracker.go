package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/academy/internal/logger"
)

// UserStatusRepo persists the online flag.
type UserStatusRepo interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Tracker owns the connect/disconnect -> online flag transition. Presence is
// advisory: persistence failures are logged and the in-process listeners are
// still told, so a flaky database does not freeze the roster.
type Tracker struct {
	repo UserStatusRepo

	mu       sync.Mutex
	onChange []func(userID string, online bool)
}

func NewTracker(repo UserStatusRepo) *Tracker {
	return &Tracker{repo: repo}
}

// OnChange registers a callback invoked after every presence transition.
// Callbacks must not block.
func (t *Tracker) OnChange(fn func(userID string, online bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}

// MarkOnline is called when a user's first connection registers.
func (t *Tracker) MarkOnline(ctx context.Context, userID string) {
	t.set(ctx, userID, true)
}

// MarkOffline is called when a user's last connection goes away or the user
// logs out.
func (t *Tracker) MarkOffline(ctx context.Context, userID string) {
	t.set(ctx, userID, false)
}

func (t *Tracker) set(ctx context.Context, userID string, online bool) {
	if err := t.repo.SetOnline(ctx, userID, online); err != nil {
		logger.Error(fmt.Errorf("presence.set %s online=%t: %w", userID, online, err))
	}
	t.mu.Lock()
	fns := append([]func(string, bool){}, t.onChange...)
	t.mu.Unlock()
	for _, fn := range fns {
		fn(userID, online)
	}
}
