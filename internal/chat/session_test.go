package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/academy/internal/conversation"
	"github.com/academy/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeResetter struct {
	mu    sync.Mutex
	calls []string
}

func (r *fakeResetter) Reset(ctx context.Context, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, memberID)
	return nil
}

func (r *fakeResetter) resets() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func recvEvent(t *testing.T, s *Session) RenderEvent {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for render event")
	}
	return RenderEvent{}
}

func requireNoEvent(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected render event for %s", ev.ConversationID)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSessionOpenBecomesActive(t *testing.T) {
	store, _, convs := testStore(t)
	views := NewActiveViews()
	s := NewSession(store, convs, &fakeResetter{}, views, "admin", model.RoleAdmin)

	require.Equal(t, StateIdle, s.State())
	require.NoError(t, s.Open(context.Background(), "member"))
	require.Equal(t, StateActive, s.State())

	convID := conversation.ID("admin", "member")
	require.Equal(t, convID, s.ConversationID())
	require.True(t, views.IsViewing("admin", convID))

	// The conversation record was materialized with the right roles.
	ok, err := convs.IsParticipant(context.Background(), convID, "member")
	require.NoError(t, err)
	require.True(t, ok)

	ev := recvEvent(t, s)
	require.Equal(t, convID, ev.ConversationID)
	require.Empty(t, ev.Messages)
}

func TestSessionOpenRejectsSelfAndMalformedIDs(t *testing.T) {
	store, _, convs := testStore(t)
	s := NewSession(store, convs, nil, NewActiveViews(), "admin", model.RoleAdmin)

	require.ErrorIs(t, s.Open(context.Background(), "admin"), ErrBadParticipant)
	require.ErrorIs(t, s.Open(context.Background(), ""), ErrBadParticipant)
	require.ErrorIs(t, s.Open(context.Background(), "bad_id"), ErrBadParticipant)
	require.Equal(t, StateIdle, s.State())
}

func TestSessionAdminOpenResetsUnread(t *testing.T) {
	store, _, convs := testStore(t)
	resetter := &fakeResetter{}
	s := NewSession(store, convs, resetter, NewActiveViews(), "admin", model.RoleAdmin)

	require.NoError(t, s.Open(context.Background(), "member"))
	require.Equal(t, []string{"member"}, resetter.resets())
}

func TestSessionMemberOpenDoesNotReset(t *testing.T) {
	store, _, convs := testStore(t)
	resetter := &fakeResetter{}
	s := NewSession(store, convs, resetter, NewActiveViews(), "member", model.RoleMember)

	require.NoError(t, s.Open(context.Background(), "admin"))
	require.Empty(t, resetter.resets())
}

func TestSessionSendRequiresActive(t *testing.T) {
	store, _, convs := testStore(t)
	s := NewSession(store, convs, nil, NewActiveViews(), "member", model.RoleMember)

	require.ErrorIs(t, s.Send(context.Background(), "hello", ""), ErrNotActive)
}

func TestSessionSendBlankIsNoop(t *testing.T) {
	store, _, convs := testStore(t)
	s := NewSession(store, convs, nil, NewActiveViews(), "member", model.RoleMember)
	require.NoError(t, s.Open(context.Background(), "admin"))
	recvEvent(t, s)

	require.NoError(t, s.Send(context.Background(), "", ""))
	requireNoEvent(t, s)

	list, err := store.FetchOnce(context.Background(), s.ConversationID())
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestSessionSendRejectsDoublePayload(t *testing.T) {
	store, _, convs := testStore(t)
	s := NewSession(store, convs, nil, NewActiveViews(), "member", model.RoleMember)
	require.NoError(t, s.Open(context.Background(), "admin"))
	recvEvent(t, s)

	err := s.Send(context.Background(), "hello", "https://files/a.png")
	require.ErrorIs(t, err, ErrInvalidPayload)
}

func TestSessionSendRendersThroughSubscriptionOnly(t *testing.T) {
	store, _, convs := testStore(t)
	s := NewSession(store, convs, nil, NewActiveViews(), "member", model.RoleMember)
	require.NoError(t, s.Open(context.Background(), "admin"))
	require.Empty(t, recvEvent(t, s).Messages)

	require.NoError(t, s.Send(context.Background(), "hello", ""))

	// Exactly one render with the message, delivered by the live
	// subscription: no optimistic duplicate.
	ev := recvEvent(t, s)
	require.Len(t, ev.Messages, 1)
	require.Equal(t, "hello", ev.Messages[0].Text)
	require.Equal(t, "member", ev.Messages[0].SenderID)
	requireNoEvent(t, s)
}

func TestSessionSwitchCancelsExactlyThePriorSubscription(t *testing.T) {
	store, _, convs := testStore(t)
	views := NewActiveViews()
	s := NewSession(store, convs, &fakeResetter{}, views, "admin", model.RoleAdmin)

	require.NoError(t, s.Open(context.Background(), "alice"))
	convA := conversation.ID("admin", "alice")
	recvEvent(t, s)

	require.NoError(t, s.Open(context.Background(), "bob"))
	convB := conversation.ID("admin", "bob")
	recvEvent(t, s)

	require.Equal(t, 0, store.SubscriberCount(convA))
	require.Equal(t, 1, store.SubscriberCount(convB))
	require.False(t, views.IsViewing("admin", convA))
	require.True(t, views.IsViewing("admin", convB))

	// Traffic in the abandoned conversation must not reach this view.
	p, _ := TextPayload("to the old chat")
	_, err := store.Append(context.Background(), convA, "alice", p)
	require.NoError(t, err)
	requireNoEvent(t, s)

	p2, _ := TextPayload("to the open chat")
	_, err = store.Append(context.Background(), convB, "bob", p2)
	require.NoError(t, err)
	ev := recvEvent(t, s)
	require.Equal(t, convB, ev.ConversationID)
	require.Len(t, ev.Messages, 1)
}

func TestSessionReopenSameConversationIsNoop(t *testing.T) {
	store, _, convs := testStore(t)
	resetter := &fakeResetter{}
	s := NewSession(store, convs, resetter, NewActiveViews(), "admin", model.RoleAdmin)

	require.NoError(t, s.Open(context.Background(), "member"))
	require.NoError(t, s.Open(context.Background(), "member"))
	require.Equal(t, 1, store.SubscriberCount(conversation.ID("admin", "member")))
	require.Equal(t, []string{"member"}, resetter.resets())
}

func TestSessionCloseReturnsToIdle(t *testing.T) {
	store, _, convs := testStore(t)
	views := NewActiveViews()
	s := NewSession(store, convs, nil, views, "member", model.RoleMember)
	require.NoError(t, s.Open(context.Background(), "admin"))
	convID := s.ConversationID()
	recvEvent(t, s)

	s.Close()
	s.Close() // idempotent
	require.Equal(t, StateIdle, s.State())
	require.Equal(t, "", s.ConversationID())
	require.Equal(t, 0, store.SubscriberCount(convID))
	require.False(t, views.IsViewing("member", convID))

	require.ErrorIs(t, s.Send(context.Background(), "late", ""), ErrNotActive)
}
