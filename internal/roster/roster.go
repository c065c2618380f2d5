package roster

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/academy/internal/logger"
	"github.com/academy/internal/model"
)

const refreshTimeout = 5 * time.Second

// Entry is one member row on the admin's conversation list.
type Entry struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
	Online      bool   `json:"online"`
	UnreadCount int    `json:"unreadCount"`
}

// MemberLister is the slice of the user repository the roster reads from.
type MemberLister interface {
	ListMembers(ctx context.Context) ([]model.User, error)
}

// Roster serves the admin's member list: every non-admin user with presence
// and unread counters, ordered stably by display name. Presence and unread
// changes call Invalidate; Run coalesces bursts into single refreshes and
// pushes the full list to every watcher.
type Roster struct {
	members MemberLister

	mu   sync.Mutex
	subs map[*Subscription]struct{}

	kick chan struct{}
}

func New(members MemberLister) *Roster {
	return &Roster{
		members: members,
		subs:    make(map[*Subscription]struct{}),
		kick:    make(chan struct{}, 1),
	}
}

// Invalidate schedules a refresh. Safe from any goroutine; bursts collapse
// into one pending refresh.
func (r *Roster) Invalidate() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Run drives refreshes until ctx is cancelled. Call it once from main.
func (r *Roster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.kick:
			r.refresh()
		}
	}
}

// Snapshot returns the current member list once, without subscribing.
func (r *Roster) Snapshot(ctx context.Context) ([]Entry, error) {
	users, err := r.members.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("roster.Snapshot: %w", err)
	}
	return entriesFromUsers(users), nil
}

// Watch subscribes to roster updates. The current list is delivered first,
// then the full list again after every change. Cancel releases the watcher.
func (r *Roster) Watch(ctx context.Context) (*Subscription, error) {
	entries, err := r.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("roster.Watch: %w", err)
	}

	sub := &Subscription{
		roster:  r,
		updates: make(chan []Entry, 4),
		done:    make(chan struct{}),
	}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	r.mu.Unlock()

	sub.push(entries)
	return sub, nil
}

func (r *Roster) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	entries, err := r.Snapshot(ctx)
	if err != nil {
		logger.Error(fmt.Errorf("roster.refresh: %w", err))
		return
	}

	r.mu.Lock()
	targets := make([]*Subscription, 0, len(r.subs))
	for sub := range r.subs {
		targets = append(targets, sub)
	}
	r.mu.Unlock()

	for _, sub := range targets {
		sub.push(entries)
	}
}

func (r *Roster) remove(sub *Subscription) {
	r.mu.Lock()
	delete(r.subs, sub)
	r.mu.Unlock()
}

// WatcherCount reports live watchers.
func (r *Roster) WatcherCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Subscription is a live roster feed. Deliveries are latest wins: a slow
// consumer sees the newest list, never a backlog of stale ones.
type Subscription struct {
	roster  *Roster
	updates chan []Entry
	done    chan struct{}
	once    sync.Once
}

func (sub *Subscription) Updates() <-chan []Entry { return sub.updates }

// Done closes when the subscription is cancelled.
func (sub *Subscription) Done() <-chan struct{} { return sub.done }

func (sub *Subscription) Cancel() {
	sub.once.Do(func() {
		sub.roster.remove(sub)
		close(sub.done)
	})
}

func (sub *Subscription) push(entries []Entry) {
	for {
		select {
		case <-sub.done:
			return
		case sub.updates <- entries:
			return
		default:
		}
		select {
		case <-sub.updates:
		default:
		}
	}
}

func entriesFromUsers(users []model.User) []Entry {
	entries := make([]Entry, 0, len(users))
	for _, u := range users {
		entries = append(entries, Entry{
			ID:          u.ID,
			DisplayName: displayName(u),
			AvatarURL:   u.AvatarURL,
			Online:      u.IsOnline,
			UnreadCount: u.UnreadForAdmin,
		})
	}
	return entries
}

func displayName(u model.User) string {
	if u.Username != "" {
		return u.Username
	}
	if u.Email != "" {
		return u.Email
	}
	return u.ID
}
