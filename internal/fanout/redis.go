package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus fans out over Redis pub/sub. Each instance pattern-subscribes to
// every room and user channel once and routes incoming messages through its
// local registry; channels nobody on this instance listens to are dropped
// there.
type RedisBus struct {
	*registry
	client redis.UniversalClient
	pubsub *redis.PubSub
	logger *zap.Logger
	done   chan struct{}
}

var _ Bus = (*RedisBus)(nil)

// NewRedisBus subscribes and waits for the broker to confirm, so an
// unreachable Redis fails here rather than on first publish.
func NewRedisBus(ctx context.Context, client redis.UniversalClient, logger *zap.Logger) (*RedisBus, error) {
	ps := client.PSubscribe(ctx, roomPrefix+"*", userPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis psubscribe: %w", err)
	}

	b := &RedisBus{
		registry: newRegistry(),
		client:   client,
		pubsub:   ps,
		logger:   logger,
		done:     make(chan struct{}),
	}
	go b.receive()
	return b, nil
}

func (b *RedisBus) receive() {
	defer close(b.done)
	for msg := range b.pubsub.Channel() {
		if err := b.dispatchRaw(msg.Channel, []byte(msg.Payload)); err != nil {
			b.logger.Warn("dropping undecodable fanout message", zap.Error(err))
		}
	}
}

// Publish sends through Redis; this instance receives its own event back
// through the subscription like every other instance. If Redis rejects the
// publish the event is still delivered to local subscribers and
// Unavailable is returned.
func (b *RedisBus) Publish(ctx context.Context, channel, event string, data any) error {
	ev, err := NewEvent(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		b.dispatch(channel, ev)
		return apperr.Unavailable("fanout broker unavailable", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(channel string, h Handler) func() {
	return b.add(channel, h)
}

// Close stops the subscription. The shared client is left open.
func (b *RedisBus) Close() error {
	err := b.pubsub.Close()
	<-b.done
	return err
}
