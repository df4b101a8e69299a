// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ava-labs/intentguard/intentguard"
)

// DefaultChannel is the pub/sub channel events are published on.
const DefaultChannel = "intentguard:events"

var _ intentguard.EventSink = (*RedisSink)(nil)

// Publisher is the part of a redis client the sink uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink publishes events as JSON on a redis channel. Relay processes
// subscribe to the channel and push events to browsers.
type RedisSink struct {
	publisher Publisher
	channel   string
}

// NewRedisSink connects to the redis server at [addr].
func NewRedisSink(addr string, password string, db int, channel string) *RedisSink {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisSinkWithPublisher(client, channel)
}

func NewRedisSinkWithPublisher(publisher Publisher, channel string) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{
		publisher: publisher,
		channel:   channel,
	}
}

func (s *RedisSink) Deliver(ctx context.Context, event intentguard.Event) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("couldn't marshal %s event: %w", event.Kind, err)
	}
	if err := s.publisher.Publish(ctx, s.channel, message).Err(); err != nil {
		return fmt.Errorf("couldn't publish %s event: %w", event.Kind, err)
	}
	return nil
}

// Close closes the underlying client if it can be closed.
func (s *RedisSink) Close() error {
	if closer, ok := s.publisher.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
