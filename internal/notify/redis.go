package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// burnChannel is the pub/sub channel pattern for burn events; one
// channel per conversation so bridge processes can subscribe narrowly.
func burnChannel(ev BurnEvent) string {
	return fmt.Sprintf("burns.%s", ev.ConversationID)
}

// redisPublisher is the slice of the redis client the publisher needs;
// *redis.Client satisfies it.
type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher mirrors burn events onto redis pub/sub, so instances
// other than the one running the scheduler can push to their clients.
type RedisPublisher struct {
	rdb redisPublisher
}

// NewRedisPublisher wraps a redis client.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// MessageBurned publishes the event as JSON to the conversation channel.
func (p *RedisPublisher) MessageBurned(ctx context.Context, ev BurnEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal burn event: %w", err)
	}
	if err := p.rdb.Publish(ctx, burnChannel(ev), payload).Err(); err != nil {
		return fmt.Errorf("publish burn event: %w", err)
	}
	return nil
}
