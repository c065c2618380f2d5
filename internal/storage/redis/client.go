package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/academy/internal/storage"
)

// Sessions live as long as the platform keeps users logged in.
const sessionTTL = 30 * 24 * time.Hour

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// Raw exposes the underlying client for components that keep their own key
// space, such as push subscriptions.
func (c *Client) Raw() *redis.Client {
	return c.cli
}

func (c *Client) SetSession(ctx context.Context, sessionID string, claims storage.SessionClaims) error {
	raw, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}
	return c.cli.Set(ctx, "session:"+sessionID, raw, sessionTTL).Err()
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (storage.SessionClaims, error) {
	val, err := c.cli.Get(ctx, "session:"+sessionID).Result()
	if err == redis.Nil {
		return storage.SessionClaims{}, storage.ErrNoSession
	}
	if err != nil {
		return storage.SessionClaims{}, err
	}
	var claims storage.SessionClaims
	if err := json.Unmarshal([]byte(val), &claims); err != nil {
		return storage.SessionClaims{}, fmt.Errorf("session decode: %w", err)
	}
	return claims, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session:"+sessionID).Err()
}

// FlushDB clears the current Redis database (used by tests and -dev resets).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
