package chat

import (
	"context"
	"errors"
	"sync"

	"github.com/academy/internal/conversation"
	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
)

// State of a chat view.
type State int32

const (
	StateIdle State = iota
	StateOpening
	StateActive
)

var (
	// ErrNotActive is returned by Send when no conversation is open.
	ErrNotActive = errors.New("no active conversation")
	// ErrBadParticipant is returned by Open for an empty, malformed or
	// self-referencing counterpart id.
	ErrBadParticipant = errors.New("invalid conversation participant")
)

// UnreadResetter clears the admin's stored unread counter for a member.
type UnreadResetter interface {
	Reset(ctx context.Context, memberID string) error
}

// ConversationEnsurer materializes the conversation record on first open.
type ConversationEnsurer interface {
	Ensure(ctx context.Context, c *model.Conversation) error
}

// RenderEvent is one item on a session's render stream: either the full
// ordered message list of the open conversation or a retryable delivery
// error. Rendering a full list is idempotent by construction, so a sender
// receiving its own just-appended message back causes no double render.
type RenderEvent struct {
	ConversationID string
	Messages       []model.Message
	Err            error
}

// Session is the controller for a single chat view (one admin tab or one
// member tab). It owns its subscription handle as private state; Open, Send
// and Close are the only mutators, which keeps a prior view's listener from
// ever rendering into the wrong conversation.
//
// State machine: Idle -> Opening (ensure conversation, reset unread,
// subscribe) -> Active (rendering, accepting sends) -> Idle on Close. Open on
// an Active session switches: the prior subscription is cancelled before
// anything else happens.
type Session struct {
	store  *Store
	convs  ConversationEnsurer
	unread UnreadResetter
	views  *ActiveViews
	userID string
	role   model.Role

	mu     sync.Mutex
	state  State
	convID string
	sub    *Subscription

	events chan RenderEvent
}

func NewSession(store *Store, convs ConversationEnsurer, unread UnreadResetter, views *ActiveViews, userID string, role model.Role) *Session {
	return &Session{
		store:  store,
		convs:  convs,
		unread: unread,
		views:  views,
		userID: userID,
		role:   role,
		events: make(chan RenderEvent, 16),
	}
}

// Events is the render stream consumed by the transport layer. The channel
// stays open across Open/Close cycles of the same session.
func (s *Session) Events() <-chan RenderEvent { return s.events }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ConversationID returns the id of the open conversation, or "".
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Open switches the session to the conversation with otherID. A failure
// leaves the session Idle; the caller may retry (manually, not in a loop).
func (s *Session) Open(ctx context.Context, otherID string) error {
	if !conversation.ValidUserID(s.userID) || !conversation.ValidUserID(otherID) || otherID == s.userID {
		return ErrBadParticipant
	}
	convID := conversation.ID(s.userID, otherID)

	s.mu.Lock()
	if s.state == StateActive && s.convID == convID {
		s.mu.Unlock()
		return nil
	}
	// Cancel the prior listener before anything else: a dangling
	// subscription would keep feeding the old conversation into this view.
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
		s.views.Clear(s.userID, s.convID)
	}
	s.state = StateOpening
	s.convID = convID
	// Register the view before the unread reset so a message landing
	// mid-transition is not counted and then wiped.
	s.views.Set(s.userID, convID)
	s.mu.Unlock()

	conv := &model.Conversation{ID: convID, AdminID: s.userID, MemberID: otherID}
	if s.role != model.RoleAdmin {
		conv.AdminID, conv.MemberID = otherID, s.userID
	}
	if err := s.convs.Ensure(ctx, conv); err != nil {
		s.abortOpen(convID)
		return err
	}

	// Reset-on-open, unconditionally, before the first render. Only the
	// admin has a stored counter; a member opening is a no-op here.
	if s.role == model.RoleAdmin && s.unread != nil {
		if err := s.unread.Reset(ctx, conv.MemberID); err != nil {
			logger.Errorf("session unread reset member=%s: %v", conv.MemberID, err)
		}
	}

	sub, err := s.store.Subscribe(ctx, convID)
	if err != nil {
		s.abortOpen(convID)
		return err
	}

	s.mu.Lock()
	if s.state != StateOpening || s.convID != convID {
		// Superseded while suspended on the subscribe handshake.
		s.mu.Unlock()
		sub.Cancel()
		return nil
	}
	s.sub = sub
	s.state = StateActive
	s.mu.Unlock()

	go s.pump(sub)
	return nil
}

func (s *Session) abortOpen(convID string) {
	s.mu.Lock()
	if s.state == StateOpening && s.convID == convID {
		s.views.Clear(s.userID, convID)
		s.state = StateIdle
		s.convID = ""
	}
	s.mu.Unlock()
}

// Send appends to the open conversation. A blank payload is silently ignored
// (user-input noise, not a fault). The sent message is not rendered locally;
// it arrives back through the live subscription like everyone else's.
func (s *Session) Send(ctx context.Context, text, attachmentURL string) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	convID := s.convID
	s.mu.Unlock()

	if text == "" && attachmentURL == "" {
		return nil
	}
	p, err := NewPayload(text, attachmentURL)
	if err != nil {
		return err
	}
	// Not under the mutex: a slow append blocks only this send, not Close.
	_, err = s.store.Append(ctx, convID, s.userID, p)
	return err
}

// Close cancels the subscription and returns to Idle. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.sub != nil {
		s.sub.Cancel()
		s.sub = nil
	}
	if s.convID != "" {
		s.views.Clear(s.userID, s.convID)
	}
	s.state = StateIdle
	s.convID = ""
	s.mu.Unlock()
}

func (s *Session) pump(sub *Subscription) {
	for {
		select {
		case <-sub.Done():
			return
		case msgs := <-sub.Updates():
			s.emit(RenderEvent{ConversationID: sub.ConversationID(), Messages: msgs})
		case err := <-sub.Errors():
			s.emit(RenderEvent{ConversationID: sub.ConversationID(), Err: err})
		}
	}
}

// emit forwards an event if it still belongs to the open conversation; a
// cancelled listener draining its buffer never reaches the render stream.
func (s *Session) emit(ev RenderEvent) {
	s.mu.Lock()
	current := s.state == StateActive && s.convID == ev.ConversationID
	s.mu.Unlock()
	if !current {
		return
	}
	for {
		select {
		case s.events <- ev:
			return
		default:
			select {
			case <-s.events:
			default:
			}
		}
	}
}
