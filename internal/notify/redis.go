// Package notify publishes session lifecycle events to a Redis channel so
// companion processes (dashboards, audit consumers) can react without
// polling the API.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"ecotrack.org/internal/obs"
	"ecotrack.org/internal/session"
)

const defaultChannel = "ecotrack.session"

// RedisPublisher implements session.Notifier over a Redis pub/sub channel.
// Delivery is best-effort: publish failures are logged and dropped.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	timeout time.Duration
}

// Option configures the publisher.
type Option func(*RedisPublisher)

// WithChannel overrides the pub/sub channel name.
func WithChannel(name string) Option {
	return func(p *RedisPublisher) {
		if name != "" {
			p.channel = name
		}
	}
}

// NewRedisPublisher wraps an existing Redis client.
func NewRedisPublisher(rdb *redis.Client, opts ...Option) *RedisPublisher {
	p := &RedisPublisher{rdb: rdb, channel: defaultChannel, timeout: 2 * time.Second}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify publishes the event as a JSON payload. It never blocks the caller
// beyond a short timeout and never returns an error to the session layer.
func (p *RedisPublisher) Notify(ctx context.Context, e session.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		obs.Warn("session event publish failed", map[string]any{
			"channel": p.channel,
			"event":   e.Type,
			"error":   err.Error(),
		})
	}
}
