package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"poolwatch/pkg/config"
	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
)

// ErrSubscriptionClosed is reported when the Redis pub/sub channel closes underneath a source
var ErrSubscriptionClosed = errors.New("redis subscription closed")

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// ChannelName returns the pub/sub channel carrying stream
func ChannelName(prefix string, st events.StreamKind) string {
	return prefix + ":" + string(st)
}

// RedisSource relays Redis pub/sub channels, one per stream, into a hub
type RedisSource struct {
	client *redis.Client
	prefix string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewRedisSource creates a source listening on <prefix>:<stream>
func NewRedisSource(client *redis.Client, prefix string) *RedisSource {
	if prefix == "" {
		prefix = config.DefaultChannelPrefix
	}
	return &RedisSource{client: client, prefix: prefix, ready: make(chan struct{})}
}

func (s *RedisSource) Name() string { return config.TransportRedis }

// Ready is closed once the subscription is confirmed by the server
func (s *RedisSource) Ready() <-chan struct{} {
	return s.ready
}

// Run relays messages until ctx is done
func (s *RedisSource) Run(ctx context.Context, hub *Hub) error {
	byChannel := make(map[string]events.StreamKind, len(events.Streams))
	channels := make([]string, 0, len(events.Streams))
	for _, st := range events.Streams {
		name := ChannelName(s.prefix, st)
		byChannel[name] = st
		channels = append(channels, name)
	}

	pubsub := s.client.Subscribe(ctx, channels...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	logger.Infof("redis: relaying channels %v", channels)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				for _, st := range events.Streams {
					hub.PublishError(st, ErrSubscriptionClosed)
				}
				return ErrSubscriptionClosed
			}
			st, known := byChannel[msg.Channel]
			if !known {
				continue
			}
			hub.Publish(st, []byte(msg.Payload))
		}
	}
}

// RedisPublisher publishes raw payloads on the stream channels, letting every
// replica subscribed through a RedisSource observe them
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedisPublisher creates a publisher for <prefix>:<stream>
func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = config.DefaultChannelPrefix
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

// Publish implements Publisher
func (p *RedisPublisher) Publish(ctx context.Context, st events.StreamKind, data []byte) error {
	if err := p.client.Publish(ctx, ChannelName(p.prefix, st), data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", st, err)
	}
	return nil
}
