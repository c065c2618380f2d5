package memory

import (
	"context"
	"sync"
	"time"

	"github.com/academy/internal/storage"
)

const sessionTTL = 30 * 24 * time.Hour

type item struct {
	claims storage.SessionClaims
	exp    time.Time
}

type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
}

func New() *Client {
	return &Client{sessions: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSession(ctx context.Context, sessionID string, claims storage.SessionClaims) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = item{claims: claims, exp: time.Now().Add(sessionTTL)}
	return nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (storage.SessionClaims, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || time.Now().After(v.exp) {
		return storage.SessionClaims{}, storage.ErrNoSession
	}
	return v.claims, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}
