package presence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStatusRepo struct {
	mu     sync.Mutex
	online map[string]bool
	fail   bool
}

func newFakeStatusRepo() *fakeStatusRepo {
	return &fakeStatusRepo{online: map[string]bool{}}
}

func (r *fakeStatusRepo) SetOnline(ctx context.Context, userID string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("db down")
	}
	r.online[userID] = online
	return nil
}

func (r *fakeStatusRepo) isOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.online[userID]
}

func TestTrackerPersistsTransitions(t *testing.T) {
	repo := newFakeStatusRepo()
	tr := NewTracker(repo)

	tr.MarkOnline(context.Background(), "alice")
	require.True(t, repo.isOnline("alice"))

	tr.MarkOffline(context.Background(), "alice")
	require.False(t, repo.isOnline("alice"))
}

func TestTrackerNotifiesListeners(t *testing.T) {
	tr := NewTracker(newFakeStatusRepo())

	type change struct {
		userID string
		online bool
	}
	var seen []change
	tr.OnChange(func(userID string, online bool) {
		seen = append(seen, change{userID, online})
	})

	tr.MarkOnline(context.Background(), "alice")
	tr.MarkOffline(context.Background(), "alice")

	require.Equal(t, []change{{"alice", true}, {"alice", false}}, seen)
}

func TestTrackerNotifiesEvenWhenPersistenceFails(t *testing.T) {
	repo := newFakeStatusRepo()
	repo.fail = true
	tr := NewTracker(repo)

	var called bool
	tr.OnChange(func(string, bool) { called = true })

	tr.MarkOnline(context.Background(), "alice")
	require.True(t, called)
}
