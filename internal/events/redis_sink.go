package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink mirrors every bus envelope onto a Redis channel so game bridges
// in other processes can follow along. Publish failures are logged, never
// propagated; the snapshot is the authority, the stream is advisory.
type RedisSink struct {
	client  *redis.Client
	channel string
}

// NewRedisSink connects a sink to the given address and channel.
func NewRedisSink(addr, channel string) *RedisSink {
	if channel == "" {
		channel = "worldcore.events"
	}
	return &RedisSink{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

// Deliver publishes the envelope as JSON.
func (s *RedisSink) Deliver(ev *Envelope) {
	raw, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("redis sink: marshal event", "type", ev.Type, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := s.client.Publish(ctx, s.channel, raw).Err(); err != nil {
		slog.Warn("redis sink: publish failed", "type", ev.Type, "error", err)
	}
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
