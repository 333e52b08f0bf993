package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// subjectPrefix namespaces our channels on a shared NATS cluster:
// room:<id> travels as circlecast.room:<id>.
const subjectPrefix = "circlecast."

// NatsBus fans out over core NATS subjects. One wildcard subscription per
// instance feeds the local registry; NATS calls it sequentially, which keeps
// per-publisher order.
type NatsBus struct {
	*registry
	nc     *nats.Conn
	sub    *nats.Subscription
	logger *zap.Logger
}

var _ Bus = (*NatsBus)(nil)

func NewNatsBus(url string, logger *zap.Logger) (*NatsBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("circlecast-gateway"),
		nats.Timeout(3*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	b := &NatsBus{registry: newRegistry(), nc: nc, logger: logger}
	sub, err := nc.Subscribe(subjectPrefix+">", b.receive)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats subscribe: %w", err)
	}
	b.sub = sub
	// the server has registered the subscription once the flush returns
	if err := nc.Flush(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("nats flush: %w", err)
	}
	return b, nil
}

func (b *NatsBus) receive(m *nats.Msg) {
	channel := strings.TrimPrefix(m.Subject, subjectPrefix)
	if err := b.dispatchRaw(channel, m.Data); err != nil {
		b.logger.Warn("dropping undecodable fanout message", zap.Error(err))
	}
}

func (b *NatsBus) Publish(ctx context.Context, channel, event string, data any) error {
	ev, err := NewEvent(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if err := b.nc.Publish(subjectPrefix+channel, payload); err != nil {
		b.dispatch(channel, ev)
		return apperr.Unavailable("fanout broker unavailable", err)
	}
	return nil
}

func (b *NatsBus) Subscribe(channel string, h Handler) func() {
	return b.add(channel, h)
}

// Close drains the subscription so in-flight events are delivered, then
// closes the connection.
func (b *NatsBus) Close() error {
	return b.nc.Drain()
}
