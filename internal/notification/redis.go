package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisPublisher publishes every event as JSON on "<prefix>:<machine>".
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

// Channel returns the channel name used for machine.
func (p *RedisPublisher) Channel(machine string) string {
	return p.prefix + ":" + machine
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(ev.Machine.Name), data).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", p.Channel(ev.Machine.Name), err)
	}
	return nil
}
