package chat

import "sync"

// ActiveViews tracks which conversation each user is actively viewing.
// At most one view per user: a session registers its conversation during
// Opening and clears it on close or switch. The unread counter consults this
// to decide whether an arriving message should bump the recipient's counter.
type ActiveViews struct {
	mu     sync.RWMutex
	byUser map[string]string
}

func NewActiveViews() *ActiveViews {
	return &ActiveViews{byUser: make(map[string]string)}
}

// Set registers userID as actively viewing convID, replacing any prior view.
func (v *ActiveViews) Set(userID, convID string) {
	v.mu.Lock()
	v.byUser[userID] = convID
	v.mu.Unlock()
}

// Clear removes the registration, but only if it still points at convID —
// a session that was switched away from must not clear its successor's view.
func (v *ActiveViews) Clear(userID, convID string) {
	v.mu.Lock()
	if v.byUser[userID] == convID {
		delete(v.byUser, userID)
	}
	v.mu.Unlock()
}

// IsViewing reports whether userID currently has convID open.
func (v *ActiveViews) IsViewing(userID, convID string) bool {
	v.mu.RLock()
	cur, ok := v.byUser[userID]
	v.mu.RUnlock()
	return ok && cur == convID
}
