package fanout

import "context"

// LocalBus delivers in process only. It is the single-instance mode used
// when no broker is configured or reachable.
type LocalBus struct {
	*registry
}

func NewLocalBus() *LocalBus {
	return &LocalBus{registry: newRegistry()}
}

var _ Bus = (*LocalBus)(nil)

// Publish delivers synchronously, so events from one publisher reach each
// handler in publish order.
func (b *LocalBus) Publish(ctx context.Context, channel, event string, data any) error {
	ev, err := NewEvent(event, data)
	if err != nil {
		return err
	}
	b.dispatch(channel, ev)
	return nil
}

func (b *LocalBus) Subscribe(channel string, h Handler) func() {
	return b.add(channel, h)
}

func (b *LocalBus) Close() error { return nil }
