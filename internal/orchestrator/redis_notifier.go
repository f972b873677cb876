package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisNotifier publishes advisory task/approval events on a Redis
// channel using the redis/go-redis/v9 client. Never authoritative:
// publish failures are logged and swallowed, never surfaced to the
// caller.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier builds a client for redisURL ("redis://host:port/db")
// without connecting. Returns an error only for a malformed URL —
// connectivity problems surface later, per-publish, as logged warnings
// rather than a startup failure, since notifications are advisory.
func NewRedisNotifier(redisURL string) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisNotifier{client: redis.NewClient(opts)}, nil
}

func (n *RedisNotifier) Publish(ctx context.Context, channel string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("redis notifier: marshal failed", "error", err)
		return
	}
	if err := n.client.Publish(ctx, channel, data).Err(); err != nil {
		slog.Warn("redis notifier: publish failed", "channel", channel, "error", err)
	}
}

// Close releases the underlying client.
func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
