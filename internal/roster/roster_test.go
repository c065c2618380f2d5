package roster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/academy/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeMemberLister struct {
	mu    sync.Mutex
	users []model.User
	fail  bool
}

func (l *fakeMemberLister) ListMembers(ctx context.Context) ([]model.User, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, errors.New("db down")
	}
	return append([]model.User(nil), l.users...), nil
}

func (l *fakeMemberLister) set(users []model.User) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.users = users
}

func recvEntries(t *testing.T, sub *Subscription) []Entry {
	t.Helper()
	select {
	case entries := <-sub.Updates():
		return entries
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster update")
	}
	return nil
}

func TestSnapshotMapsUsers(t *testing.T) {
	lister := &fakeMemberLister{users: []model.User{
		{ID: "u1", Username: "alice", IsOnline: true, UnreadForAdmin: 2},
		{ID: "u2", Email: "bob@example.com"},
		{ID: "u3"},
	}}
	r := New(lister)

	entries, err := r.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{ID: "u1", DisplayName: "alice", Online: true, UnreadCount: 2},
		{ID: "u2", DisplayName: "bob@example.com"},
		{ID: "u3", DisplayName: "u3"},
	}, entries)
}

func TestWatchDeliversInitialListThenRefreshes(t *testing.T) {
	lister := &fakeMemberLister{users: []model.User{{ID: "u1", Username: "alice"}}}
	r := New(lister)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	sub, err := r.Watch(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()

	require.Len(t, recvEntries(t, sub), 1)

	lister.set([]model.User{
		{ID: "u1", Username: "alice", UnreadForAdmin: 1},
		{ID: "u2", Username: "bob", IsOnline: true},
	})
	r.Invalidate()

	entries := recvEntries(t, sub)
	require.Len(t, entries, 2)
	require.Equal(t, 1, entries[0].UnreadCount)
	require.True(t, entries[1].Online)
}

func TestCancelStopsDeliveries(t *testing.T) {
	lister := &fakeMemberLister{}
	r := New(lister)

	sub, err := r.Watch(context.Background())
	require.NoError(t, err)
	recvEntries(t, sub)

	sub.Cancel()
	sub.Cancel() // idempotent
	require.Equal(t, 0, r.WatcherCount())

	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed after Cancel")
	}
}

func TestWatchFailsWhenListingFails(t *testing.T) {
	lister := &fakeMemberLister{fail: true}
	r := New(lister)

	_, err := r.Watch(context.Background())
	require.Error(t, err)
	require.Equal(t, 0, r.WatcherCount())
}

func TestLatestWinsForSlowWatchers(t *testing.T) {
	lister := &fakeMemberLister{}
	r := New(lister)

	sub, err := r.Watch(context.Background())
	require.NoError(t, err)
	defer sub.Cancel()
	recvEntries(t, sub)

	// Push more refreshes than the channel buffers without consuming.
	for i := 0; i < 10; i++ {
		lister.set([]model.User{{ID: "u1", Username: "alice", UnreadForAdmin: i + 1}})
		r.refresh()
	}

	var last []Entry
	for {
		select {
		case entries := <-sub.Updates():
			last = entries
			continue
		default:
		}
		break
	}
	require.NotNil(t, last)
	require.Equal(t, 10, last[0].UnreadCount)
}
