package realtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisRelay shares published payloads between instances over Redis
// Pub/Sub. Channel format: <prefix>:<event_id>.
type RedisRelay struct {
	redis  *redis.Client
	hub    *Hub
	prefix string
}

// NewRedisRelay creates a relay feeding hub. It does not attach itself; call
// hub.SetRelay once Start is running.
func NewRedisRelay(client *redis.Client, hub *Hub, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = "verif:events"
	}
	return &RedisRelay{redis: client, hub: hub, prefix: prefix}
}

// Channel returns the Redis channel of an event.
func (r *RedisRelay) Channel(eventID int) string {
	return r.prefix + ":" + strconv.Itoa(eventID)
}

// Publish sends payload to every instance subscribed to the prefix.
func (r *RedisRelay) Publish(ctx context.Context, eventID int, payload []byte) error {
	if err := r.redis.Publish(ctx, r.Channel(eventID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}

// Subscribe confirms the pattern subscription and returns it. Start uses it;
// it is split out so callers can fail fast on startup.
func (r *RedisRelay) Subscribe(ctx context.Context) (*redis.PubSub, error) {
	pubsub := r.redis.PSubscribe(ctx, r.prefix+":*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s:*: %w", r.prefix, err)
	}
	return pubsub, nil
}

// Start forwards relayed payloads to the local hub until ctx is cancelled.
func (r *RedisRelay) Start(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	r.hub.log.Info("Redis relay started", "pattern", r.prefix+":*")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.hub.log.Info("Redis relay stopping")
			return

		case msg, ok := <-ch:
			if !ok {
				r.hub.log.Warn("Redis relay channel closed")
				return
			}
			eventID, ok := r.eventFromChannel(msg.Channel)
			if !ok {
				r.hub.log.Warn("Invalid relay channel", "channel", msg.Channel)
				continue
			}
			if err := r.hub.enqueue(ctx, Message{EventID: eventID, Data: []byte(msg.Payload)}); err != nil {
				r.hub.log.Warn("Dropped relayed message", "event_id", eventID, "error", err)
			}
		}
	}
}

// eventFromChannel extracts the event id.
// Example: "verif:events:12" -> 12
func (r *RedisRelay) eventFromChannel(channel string) (int, bool) {
	rest, ok := strings.CutPrefix(channel, r.prefix+":")
	if !ok || rest == "" {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
