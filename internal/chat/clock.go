package chat

import (
	"sync"
	"time"
)

// Clock is the authoritative timestamp source for message ordering. Now must
// be non-decreasing per conversation; client clocks are never consulted.
type Clock interface {
	Now(conversationID string) time.Time
}

// MonotonicClock wraps the wall clock and clamps it non-decreasing per
// conversation. Timestamps are truncated to microseconds so the value that
// orders messages in memory is the same value Postgres stores.
type MonotonicClock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{last: make(map[string]time.Time), now: time.Now}
}

// NewMonotonicClockFunc uses the given wall-clock source. For tests.
func NewMonotonicClockFunc(now func() time.Time) *MonotonicClock {
	return &MonotonicClock{last: make(map[string]time.Time), now: now}
}

func (c *MonotonicClock) Now(conversationID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now().UTC().Truncate(time.Microsecond)
	if last, ok := c.last[conversationID]; ok && t.Before(last) {
		t = last
	}
	c.last[conversationID] = t
	return t
}
