package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/sse"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const publishTimeout = 2 * time.Second

// RedisBus publishes events on a redis channel so every instance's SSE hub
// sees changes made through any other instance.
type RedisBus struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisBus(client *redis.Client, channel string, logger *zap.Logger) *RedisBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBus{client: client, channel: channel, logger: logger}
}

// Publish sends e to the channel. Failures are logged and swallowed.
func (b *RedisBus) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.logger.Warn("Failed to encode event", zap.String("type", e.Type), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		b.logger.Warn("Failed to publish event",
			zap.String("type", e.Type),
			zap.String("run_id", e.RunID),
			zap.Error(err),
		)
	}
}

// Relay subscribes to the channel and broadcasts every event into hub until
// ctx is cancelled.
func (b *RedisBus) Relay(ctx context.Context, hub *sse.Hub) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	b.logger.Info("Event relay started", zap.String("channel", b.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("Event relay stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var e Event
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logger.Warn("Dropping malformed event", zap.Error(err))
				continue
			}
			hub.Broadcast(ToSSE(e))
		}
	}
}

// Ping checks connectivity; used by the readiness probe.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}
