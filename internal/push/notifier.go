package push

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/redis/go-redis/v9"

	"github.com/academy/internal/logger"
)

const (
	redisKeyPrefix  = "push:subs:"
	maxSubsPerUser  = 10
	subscriptionTTL = 30 * 24 * time.Hour
	sendTimeout     = 10 * time.Second
)

// Subscription is what the browser hands over from the Push API.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (s Subscription) valid() bool {
	return s.Endpoint != "" && s.Keys.P256dh != "" && s.Keys.Auth != ""
}

// Notifier stores per-user Web Push subscriptions in Redis and delivers
// notifications via VAPID. A nil Redis client or missing keys disables
// delivery: subscriptions are rejected, Notify is a no-op.
type Notifier struct {
	redis *redis.Client
	vapid *webpush.Options
}

func NewNotifier(rdb *redis.Client, keys *VAPIDKeys) *Notifier {
	n := &Notifier{redis: rdb}
	if keys != nil && keys.PublicKey != "" && keys.PrivateKey != "" {
		n.vapid = &webpush.Options{
			Subscriber:      "academy-chat",
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             30,
		}
	}
	return n
}

// Enabled reports whether subscriptions can be stored.
func (n *Notifier) Enabled() bool { return n.redis != nil }

// PublicKey returns the VAPID public key the browser needs to subscribe, or
// "" when push is not configured.
func (n *Notifier) PublicKey() string {
	if n.vapid == nil {
		return ""
	}
	return n.vapid.VAPIDPublicKey
}

// Subscribe stores a browser subscription for userID. The per-user list is
// capped; the oldest entries fall off.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	if n.redis == nil {
		return fmt.Errorf("push.Subscribe: push not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || !sub.valid() {
		return fmt.Errorf("push.Subscribe: user id and subscription required")
	}
	raw, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("push.Subscribe encode: %w", err)
	}
	key := redisKeyPrefix + userID
	pipe := n.redis.Pipeline()
	pipe.RPush(ctx, key, string(raw))
	pipe.LTrim(ctx, key, -maxSubsPerUser, -1)
	pipe.Expire(ctx, key, subscriptionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push.Subscribe redis: %w", err)
	}
	return nil
}

// Unsubscribe removes the subscription with the given endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	if n.redis == nil {
		return nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || endpoint == "" {
		return fmt.Errorf("push.Unsubscribe: user id and endpoint required")
	}
	return n.removeSubscription(ctx, userID, endpoint)
}

// Notify sends a notification to every live subscription of userID. Failures
// are logged, dead endpoints (404/410 from the push service) are pruned.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	if n.redis == nil || n.vapid == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	subs, err := n.listSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push notify %s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for i := range subs {
		sub := &subs[i]
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
		}
		resp, err := webpush.SendNotificationWithContext(ctx, payload, wpSub, n.vapid)
		if err != nil {
			logger.Errorf("push send %s: %v", truncate(sub.Endpoint, 50), err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			if err := n.removeSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push prune %s: %v", userID, err)
			}
		}
	}
}

func (n *Notifier) listSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	list, err := n.redis.LRange(ctx, redisKeyPrefix+userID, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	subs := make([]Subscription, 0, len(list))
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != "" {
			subs = append(subs, sub)
		}
	}
	return subs, nil
}

func (n *Notifier) removeSubscription(ctx context.Context, userID, endpoint string) error {
	key := redisKeyPrefix + userID
	list, err := n.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return err
	}
	var kept []string
	for _, item := range list {
		var sub Subscription
		if json.Unmarshal([]byte(item), &sub) == nil && sub.Endpoint != endpoint {
			kept = append(kept, item)
		}
	}
	if err := n.redis.Del(ctx, key).Err(); err != nil {
		return err
	}
	if len(kept) == 0 {
		return nil
	}
	if err := n.redis.RPush(ctx, key, toAnySlice(kept)...).Err(); err != nil {
		return err
	}
	return n.redis.Expire(ctx, key, subscriptionTTL).Err()
}

func toAnySlice(items []string) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
