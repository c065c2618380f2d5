package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/academy/internal/conversation"
	"github.com/academy/internal/model"
	"github.com/stretchr/testify/require"
)

// fakeMessageRepo is an in-memory MessageRepo with the same ordering contract
// as the SQL implementation: ascending created_at, ties by insertion order.
type fakeMessageRepo struct {
	mu       sync.Mutex
	seq      int64
	msgs     map[string][]model.Message
	failList bool
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{msgs: make(map[string][]model.Message)}
}

func (r *fakeMessageRepo) Insert(ctx context.Context, m *model.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	m.Seq = r.seq
	r.msgs[m.ConversationID] = append(r.msgs[m.ConversationID], *m)
	return nil
}

func (r *fakeMessageRepo) ListByConversation(ctx context.Context, convID string) ([]model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failList {
		return nil, errors.New("connection reset")
	}
	out := make([]model.Message, len(r.msgs[convID]))
	copy(out, r.msgs[convID])
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (r *fakeMessageRepo) setFailList(fail bool) {
	r.mu.Lock()
	r.failList = fail
	r.mu.Unlock()
}

type fakeConvRepo struct {
	mu    sync.Mutex
	convs map[string]model.Conversation
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[string]model.Conversation)}
}

func (r *fakeConvRepo) Ensure(ctx context.Context, c *model.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.convs[c.ID]; !ok {
		r.convs[c.ID] = *c
	}
	return nil
}

func (r *fakeConvRepo) IsParticipant(ctx context.Context, convID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	return ok && (c.AdminID == userID || c.MemberID == userID), nil
}

func (r *fakeConvRepo) Touch(ctx context.Context, convID string, at time.Time) error { return nil }

// steppedClock hands out preset timestamps in order, then repeats the last.
type steppedClock struct {
	mu    sync.Mutex
	times []time.Time
	i     int
}

func (c *steppedClock) Now(convID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.times[c.i]
	if c.i < len(c.times)-1 {
		c.i++
	}
	return t
}

func testStore(t *testing.T) (*Store, *fakeMessageRepo, *fakeConvRepo) {
	t.Helper()
	msgs := newFakeMessageRepo()
	convs := newFakeConvRepo()
	return NewStore(msgs, convs, NewMonotonicClock()), msgs, convs
}

func seedConv(t *testing.T, convs *fakeConvRepo, admin, member string) string {
	t.Helper()
	id := conversation.ID(admin, member)
	require.NoError(t, convs.Ensure(context.Background(), &model.Conversation{ID: id, AdminID: admin, MemberID: member}))
	return id
}

func recvList(t *testing.T, sub *Subscription) []model.Message {
	t.Helper()
	select {
	case msgs := <-sub.Updates():
		return msgs
	case err := <-sub.Errors():
		t.Fatalf("unexpected delivery error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message list")
	}
	return nil
}

func TestAppendRejectsInvalidPayload(t *testing.T) {
	store, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	_, err := NewPayload("", "")
	require.ErrorIs(t, err, ErrInvalidPayload)
	_, err = NewPayload("hi", "https://files/x.png")
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = store.Append(context.Background(), convID, "member", Payload{})
	require.ErrorIs(t, err, ErrInvalidPayload)

	list, err := msgs.ListByConversation(context.Background(), convID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestAppendRejectsNonParticipant(t *testing.T) {
	store, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	p, err := TextPayload("hello")
	require.NoError(t, err)
	_, err = store.Append(context.Background(), convID, "mallory", p)
	require.ErrorIs(t, err, ErrNotParticipant)

	// Nothing was written.
	list, err := msgs.ListByConversation(context.Background(), convID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestAppendAssignsServerTimestamp(t *testing.T) {
	_, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &steppedClock{times: []time.Time{base, base.Add(time.Second)}}
	store := NewStore(msgs, convs, clock)

	p, _ := TextPayload("hello")
	m, err := store.Append(context.Background(), convID, "member", p)
	require.NoError(t, err)
	require.Equal(t, base, m.CreatedAt)
	require.NotEmpty(t, m.ID)
	require.EqualValues(t, 1, m.Seq)
}

func TestOrderingFollowsTimestampsNotArrival(t *testing.T) {
	store, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	// Network reordering: the message stamped later is persisted first.
	t1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Second)
	require.NoError(t, msgs.Insert(context.Background(), &model.Message{
		ID: "m2", ConversationID: convID, SenderID: "admin", Text: "second", CreatedAt: t2,
	}))
	require.NoError(t, msgs.Insert(context.Background(), &model.Message{
		ID: "m1", ConversationID: convID, SenderID: "member", Text: "first", CreatedAt: t1,
	}))

	list, err := store.FetchOnce(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "m1", list[0].ID)
	require.Equal(t, "m2", list[1].ID)
}

func TestOrderingTiesBreakByInsertion(t *testing.T) {
	_, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	// Clock frozen: every append gets the same timestamp.
	frozen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(msgs, convs, &steppedClock{times: []time.Time{frozen}})

	for _, text := range []string{"a", "b", "c"} {
		p, _ := TextPayload(text)
		_, err := store.Append(context.Background(), convID, "member", p)
		require.NoError(t, err)
	}

	list, err := store.FetchOnce(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "a", list[0].Text)
	require.Equal(t, "b", list[1].Text)
	require.Equal(t, "c", list[2].Text)
}

func TestSubscribeDeliversFullListOnEveryChange(t *testing.T) {
	store, _, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	p, _ := TextPayload("hello")
	_, err := store.Append(context.Background(), convID, "member", p)
	require.NoError(t, err)

	sub, err := store.Subscribe(context.Background(), convID)
	require.NoError(t, err)
	defer sub.Cancel()

	initial := recvList(t, sub)
	require.Len(t, initial, 1)
	require.Equal(t, "hello", initial[0].Text)

	p2, _ := TextPayload("hi back")
	_, err = store.Append(context.Background(), convID, "admin", p2)
	require.NoError(t, err)

	updated := recvList(t, sub)
	require.Len(t, updated, 2)
	require.Equal(t, "hello", updated[0].Text)
	require.Equal(t, "hi back", updated[1].Text)
}

func TestCancelReleasesSubscription(t *testing.T) {
	store, _, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	sub, err := store.Subscribe(context.Background(), convID)
	require.NoError(t, err)
	require.Equal(t, 1, store.SubscriberCount(convID))
	recvList(t, sub)

	sub.Cancel()
	sub.Cancel() // idempotent
	require.Equal(t, 0, store.SubscriberCount(convID))

	p, _ := TextPayload("after cancel")
	_, err = store.Append(context.Background(), convID, "member", p)
	require.NoError(t, err)

	select {
	case msgs, ok := <-sub.Updates():
		if ok {
			t.Fatalf("received %d messages after cancel", len(msgs))
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDeliveryFailureSurfacesOnErrorChannel(t *testing.T) {
	store, msgs, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	sub, err := store.Subscribe(context.Background(), convID)
	require.NoError(t, err)
	defer sub.Cancel()
	recvList(t, sub)

	msgs.setFailList(true)
	p, _ := TextPayload("hello")
	_, err = store.Append(context.Background(), convID, "member", p)
	require.NoError(t, err) // the append itself succeeded

	select {
	case err := <-sub.Errors():
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a delivery error")
	}

	// The store does not auto-retry; re-subscribing is the caller's call.
	msgs.setFailList(false)
	sub2, err := store.Subscribe(context.Background(), convID)
	require.NoError(t, err)
	defer sub2.Cancel()
	require.Len(t, recvList(t, sub2), 1)
}

func TestAppendObserversRun(t *testing.T) {
	store, _, convs := testStore(t)
	convID := seedConv(t, convs, "admin", "member")

	var seen []model.Message
	store.OnAppend(func(m model.Message) { seen = append(seen, m) })

	p, _ := TextPayload("hello")
	m, err := store.Append(context.Background(), convID, "member", p)
	require.NoError(t, err)
	require.Len(t, seen, 1)
	require.Equal(t, m.ID, seen[0].ID)
}
