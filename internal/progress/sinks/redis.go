package sinks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/journal-crawler/internal/progress"
)

// DefaultRedisChannel is used when no channel is configured.
const DefaultRedisChannel = "journals:progress"

// RedisPublisher is the subset of *redis.Client the sink needs.
type RedisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisSink publishes every event as JSON on a Redis pub/sub channel so live
// dashboards can follow a run.
type RedisSink struct {
	client  RedisPublisher
	channel string
}

// NewRedisSink builds a RedisSink.
func NewRedisSink(client RedisPublisher, channel string) (*RedisSink, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Consume publishes each event in order. The first failure aborts the batch.
func (s *RedisSink) Consume(ctx context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		raw, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := s.client.Publish(ctx, s.channel, raw).Err(); err != nil {
			return fmt.Errorf("redis publish: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink. The client is owned by the caller.
func (s *RedisSink) Close(context.Context) error {
	return nil
}
