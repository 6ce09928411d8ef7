package audit

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel lifecycle events are published on.
const DefaultRedisChannel = "tenantquota:audit"

// RedisSink publishes every event as JSON on a pub/sub channel so other
// services can react to lifecycle changes.
type RedisSink struct {
	client  redis.UniversalClient
	channel string
}

func NewRedisSink(client redis.UniversalClient, channel string) *RedisSink {
	if client == nil {
		panic("audit: redis client is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Join(ErrDeliveryFailed, err)
	}
	return nil
}
