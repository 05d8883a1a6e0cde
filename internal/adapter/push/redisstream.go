package push

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// StreamSubscriber mirrors every broadcast record into a Redis Stream so
// out-of-process consumers can tail the live feed. It participates in the
// registry like any websocket peer: a failing stream is removed by the
// fanout pass instead of being retried inline.
type StreamSubscriber struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

// NewStreamSubscriber creates a subscriber publishing to the named stream.
// The client is owned by the caller.
func NewStreamSubscriber(client *redis.Client, stream string, logger *slog.Logger) *StreamSubscriber {
	return &StreamSubscriber{
		client: client,
		stream: stream,
		logger: logger.With("component", "redis_stream_subscriber"),
	}
}

func (s *StreamSubscriber) ID() string {
	return "redis-stream:" + s.stream
}

// Send appends the serialized record to the stream.
func (s *StreamSubscriber) Send(ctx context.Context, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to redis stream: %w", err)
	}
	return nil
}

func (s *StreamSubscriber) Close() error {
	return nil
}
