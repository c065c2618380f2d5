package chat

import (
	"context"
	"sync"
	"testing"

	"github.com/academy/internal/conversation"
	"github.com/academy/internal/model"
	"github.com/academy/internal/unread"
	"github.com/stretchr/testify/require"
)

type countingRepo struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRepo() *countingRepo {
	return &countingRepo{counts: map[string]int{}}
}

func (r *countingRepo) IncrementUnreadForAdmin(ctx context.Context, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[memberID]++
	return nil
}

func (r *countingRepo) ResetUnreadForAdmin(ctx context.Context, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[memberID] = 0
	return nil
}

func (r *countingRepo) count(memberID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[memberID]
}

type staticAdmin struct{ id string }

func (d staticAdmin) AdminID(ctx context.Context) (string, error) { return d.id, nil }

// Full exchange between a member and the admin: counting while the admin is
// away, reset on open, both sides rendering the same ordered thread.
func TestMemberAdminExchange(t *testing.T) {
	ctx := context.Background()
	store, _, convs := testStore(t)
	views := NewActiveViews()
	counts := newCountingRepo()
	counter := unread.NewCounter(counts, views, staticAdmin{id: "admin"})
	store.OnAppend(counter.OnMessageAppended)

	member := NewSession(store, convs, counter, views, "maria", model.RoleMember)
	admin := NewSession(store, convs, counter, views, "admin", model.RoleAdmin)
	convID := conversation.ID("maria", "admin")

	// Member opens the thread and greets. The admin is not connected yet,
	// so the counter goes up.
	require.NoError(t, member.Open(ctx, "admin"))
	require.Empty(t, recvEvent(t, member).Messages)

	require.NoError(t, member.Send(ctx, "hello", ""))
	ev := recvEvent(t, member)
	require.Len(t, ev.Messages, 1)
	require.Equal(t, "hello", ev.Messages[0].Text)
	require.Equal(t, 1, counts.count("maria"))

	// Admin opens the thread: counter resets, full history renders.
	require.NoError(t, admin.Open(ctx, "maria"))
	require.Equal(t, 0, counts.count("maria"))
	ev = recvEvent(t, admin)
	require.Equal(t, convID, ev.ConversationID)
	require.Len(t, ev.Messages, 1)

	// Admin replies; both sides see the same two-message thread in order.
	require.NoError(t, admin.Send(ctx, "hi, how can I help?", ""))
	adminEv := recvEvent(t, admin)
	memberEv := recvEvent(t, member)
	require.Len(t, adminEv.Messages, 2)
	require.Len(t, memberEv.Messages, 2)
	require.Equal(t, "hello", memberEv.Messages[0].Text)
	require.Equal(t, "hi, how can I help?", memberEv.Messages[1].Text)
	// Admin outbound traffic never counts.
	require.Equal(t, 0, counts.count("maria"))

	// While the admin keeps the thread open, incoming messages are already
	// seen and must not count either.
	require.NoError(t, member.Send(ctx, "thanks!", ""))
	recvEvent(t, member)
	recvEvent(t, admin)
	require.Equal(t, 0, counts.count("maria"))

	// Once the admin leaves, counting resumes.
	admin.Close()
	require.NoError(t, member.Send(ctx, "one more thing", ""))
	recvEvent(t, member)
	require.Equal(t, 1, counts.count("maria"))

	member.Close()
	require.Equal(t, 0, store.SubscriberCount(convID))
}

// Switching threads moves the admin's view: the abandoned member starts
// counting again, the newly opened one resets.
func TestAdminSwitchMovesUnreadAccounting(t *testing.T) {
	ctx := context.Background()
	store, _, convs := testStore(t)
	views := NewActiveViews()
	counts := newCountingRepo()
	counter := unread.NewCounter(counts, views, staticAdmin{id: "admin"})
	store.OnAppend(counter.OnMessageAppended)

	alice := NewSession(store, convs, counter, views, "alice", model.RoleMember)
	bob := NewSession(store, convs, counter, views, "bob", model.RoleMember)
	admin := NewSession(store, convs, counter, views, "admin", model.RoleAdmin)

	require.NoError(t, alice.Open(ctx, "admin"))
	require.NoError(t, bob.Open(ctx, "admin"))
	require.NoError(t, alice.Send(ctx, "ping from alice", ""))
	require.NoError(t, bob.Send(ctx, "ping from bob", ""))
	require.Equal(t, 1, counts.count("alice"))
	require.Equal(t, 1, counts.count("bob"))

	require.NoError(t, admin.Open(ctx, "alice"))
	require.Equal(t, 0, counts.count("alice"))
	require.Equal(t, 1, counts.count("bob"))

	require.NoError(t, admin.Open(ctx, "bob"))
	require.Equal(t, 0, counts.count("bob"))

	// Alice's thread is no longer on screen.
	require.NoError(t, alice.Send(ctx, "still there?", ""))
	require.Equal(t, 1, counts.count("alice"))

	alice.Close()
	bob.Close()
	admin.Close()
}
