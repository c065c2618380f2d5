// Package chat is the core of the messaging subsystem: the append-only
// message store with live subscriptions, the authoritative ordering clock,
// and the per-view session controller.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
	"github.com/google/uuid"
)

// ErrNotParticipant is returned by Append when the sender does not belong to
// the conversation. Nothing is written in that case.
var ErrNotParticipant = errors.New("sender is not a participant of this conversation")

const notifyTimeout = 5 * time.Second

// MessageRepo is the persistence the store appends to and reads from.
// Implemented by repository.MessageRepository; faked in tests.
type MessageRepo interface {
	Insert(ctx context.Context, m *model.Message) error
	ListByConversation(ctx context.Context, convID string) ([]model.Message, error)
}

// ConversationRepo answers participant membership for appends.
type ConversationRepo interface {
	IsParticipant(ctx context.Context, convID, userID string) (bool, error)
	Touch(ctx context.Context, convID string, at time.Time) error
}

// Store is the message store: an ordered log per conversation with push
// subscriptions. Every change delivers the full ordered list (ascending
// created_at, ties by insertion order) to each live subscription — the same
// snapshot shape FetchOnce returns.
type Store struct {
	msgs  MessageRepo
	convs ConversationRepo
	clock Clock

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}

	observers []func(model.Message)
}

func NewStore(msgs MessageRepo, convs ConversationRepo, clock Clock) *Store {
	return &Store{
		msgs:  msgs,
		convs: convs,
		clock: clock,
		subs:  make(map[string]map[*Subscription]struct{}),
	}
}

// OnAppend registers an observer invoked after every successful append
// (unread bookkeeping, push notifications). Must be called during wiring,
// before the store starts serving.
func (s *Store) OnAppend(fn func(model.Message)) {
	s.observers = append(s.observers, fn)
}

// Append validates the payload, stamps the message with the authoritative
// clock and persists it, then fans the updated list out to subscribers.
// 	- ErrInvalidPayload: payload does not carry exactly one field
// 	- ErrNotParticipant: sender is not a member; nothing is written
func (s *Store) Append(ctx context.Context, convID, senderID string, p Payload) (*model.Message, error) {
	defer logger.DeferLogDuration("store.Append", time.Now())()
	if !p.valid {
		return nil, ErrInvalidPayload
	}

	ok, err := s.convs.IsParticipant(ctx, convID, senderID)
	if err != nil {
		return nil, fmt.Errorf("store.Append participant check: %w", err)
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	m := &model.Message{
		ID:             uuid.New().String(),
		ConversationID: convID,
		SenderID:       senderID,
		Text:           p.text,
		AttachmentURL:  p.attachmentURL,
		CreatedAt:      s.clock.Now(convID),
	}
	if err := s.msgs.Insert(ctx, m); err != nil {
		return nil, fmt.Errorf("store.Append: %w", err)
	}
	if err := s.convs.Touch(ctx, convID, m.CreatedAt); err != nil {
		logger.Errorf("store touch conv=%s: %v", convID, err)
	}

	for _, fn := range s.observers {
		fn(*m)
	}
	s.notify(convID)
	return m, nil
}

// FetchOnce returns a single ordered snapshot of the conversation.
func (s *Store) FetchOnce(ctx context.Context, convID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("store.FetchOnce", time.Now())()
	msgs, err := s.msgs.ListByConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("store.FetchOnce: %w", err)
	}
	return msgs, nil
}

// Subscribe registers a live listener for the conversation. The initial
// snapshot is fetched before the subscription is handed back, so the first
// receive on Updates never blocks on the database. Delivery failures after
// that surface on Errors; the store never retries on the subscriber's behalf.
func (s *Store) Subscribe(ctx context.Context, convID string) (*Subscription, error) {
	defer logger.DeferLogDuration("store.Subscribe", time.Now())()
	snapshot, err := s.msgs.ListByConversation(ctx, convID)
	if err != nil {
		return nil, fmt.Errorf("store.Subscribe: %w", err)
	}

	sub := &Subscription{
		store:   s,
		convID:  convID,
		updates: make(chan []model.Message, 8),
		errs:    make(chan error, 4),
		done:    make(chan struct{}),
	}

	s.mu.Lock()
	if _, ok := s.subs[convID]; !ok {
		s.subs[convID] = make(map[*Subscription]struct{})
	}
	s.subs[convID][sub] = struct{}{}
	s.mu.Unlock()

	sub.push(snapshot)
	return sub, nil
}

// notify re-reads the conversation and delivers the full list to every live
// subscription. A read failure is fanned out on the error channels instead.
func (s *Store) notify(convID string) {
	s.mu.RLock()
	targets := make([]*Subscription, 0, len(s.subs[convID]))
	for sub := range s.subs[convID] {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	msgs, err := s.msgs.ListByConversation(ctx, convID)
	if err != nil {
		logger.Errorf("store notify conv=%s: %v", convID, err)
		for _, sub := range targets {
			sub.pushErr(fmt.Errorf("message delivery failed: %w", err))
		}
		return
	}
	for _, sub := range targets {
		sub.push(msgs)
	}
}

func (s *Store) remove(sub *Subscription) {
	s.mu.Lock()
	if set, ok := s.subs[sub.convID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(s.subs, sub.convID)
		}
	}
	s.mu.Unlock()
}

// SubscriberCount reports live subscriptions for a conversation.
func (s *Store) SubscriberCount(convID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs[convID])
}

// Subscription is a live listener on one conversation. Cancel releases it;
// after Cancel no further lists are delivered.
type Subscription struct {
	store   *Store
	convID  string
	updates chan []model.Message
	errs    chan error
	done    chan struct{}
	once    sync.Once
}

// Updates delivers the full ordered message list on every change. Slow
// consumers only ever lag by whole snapshots: stale lists are dropped in
// favor of the newest one.
func (sub *Subscription) Updates() <-chan []model.Message { return sub.updates }

// Errors surfaces delivery failures. The subscriber decides whether to
// re-subscribe.
func (sub *Subscription) Errors() <-chan error { return sub.errs }

// Done is closed by Cancel.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

// ConversationID returns the conversation this subscription is bound to.
func (sub *Subscription) ConversationID() string { return sub.convID }

// Cancel stops delivery and releases the subscription. Idempotent.
func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.store.remove(sub)
		close(sub.done)
	})
}

// push delivers a snapshot, discarding an older buffered one if the consumer
// has not caught up. Each element is a complete list, so dropping stale
// snapshots never loses information.
func (sub *Subscription) push(msgs []model.Message) {
	for {
		select {
		case <-sub.done:
			return
		case sub.updates <- msgs:
			return
		default:
			select {
			case <-sub.updates:
			default:
			}
		}
	}
}

func (sub *Subscription) pushErr(err error) {
	select {
	case sub.errs <- err:
	default:
	}
}
