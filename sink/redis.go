package sink

import (
	"context"
	"fmt"

	"github.com/0xmhha/pool-indexer/internal/config"
	"github.com/0xmhha/pool-indexer/internal/constants"
	"github.com/0xmhha/pool-indexer/types"
	"github.com/redis/go-redis/v9"
)

// publisher is the part of the redis client the sink uses
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes record envelopes on a Redis pub/sub channel
type RedisSink struct {
	client  publisher
	channel string
}

// NewRedisSink connects to the configured Redis server
func NewRedisSink(ctx context.Context, cfg config.RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return newRedisSink(client, cfg.Channel), nil
}

func newRedisSink(client publisher, channel string) *RedisSink {
	if channel == "" {
		channel = constants.DefaultRedisChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Name implements Sink
func (s *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel records are published on
func (s *RedisSink) Channel() string { return s.channel }

// Publish implements Sink
func (s *RedisSink) Publish(ctx context.Context, rec *types.TransactionRecord) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if err := s.client.Publish(ctx, s.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis channel %s: %w", s.channel, err)
	}
	return nil
}

// Close implements Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}
