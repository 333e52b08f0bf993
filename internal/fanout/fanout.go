// Package fanout delivers room and user events to every gateway instance.
//
// Publishers never talk to connections directly. They publish to a channel
// (room:<id> or user:<id>) and every instance, the origin included, hands
// the event to the handlers its local connections registered for that
// channel. Delivery is at-least-once and best effort.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

const (
	roomPrefix = "room:"
	userPrefix = "user:"
)

func RoomChannel(roomID uuid.UUID) string { return roomPrefix + roomID.String() }
func UserChannel(userID uuid.UUID) string { return userPrefix + userID.String() }

// Event is the envelope carried on every channel. It is also the websocket
// frame shape, so gateways forward it without re-encoding.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

// NewEvent encodes data into an Event.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}

// Handler receives events for one subscription. It runs on the bus's
// delivery goroutine and must not block.
type Handler func(Event)

// Publisher is the write half of Bus, which is all most components need.
type Publisher interface {
	// Publish sends event to every subscriber of channel on every instance.
	Publish(ctx context.Context, channel, event string, data any) error
}

// Bus is the cross-instance publish/subscribe surface.
type Bus interface {
	Publisher

	// Subscribe registers h for channel on this instance. The returned func
	// removes it and is safe to call more than once.
	Subscribe(channel string, h Handler) (unsubscribe func())

	Close() error
}

// registry is the per-instance channel -> handlers table shared by every Bus
// implementation.
type registry struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[uint64]Handler)}
}

func (r *registry) add(channel string, h Handler) func() {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	set := r.subs[channel]
	if set == nil {
		set = make(map[uint64]Handler)
		r.subs[channel] = set
	}
	set[id] = h
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if set := r.subs[channel]; set != nil {
				delete(set, id)
				if len(set) == 0 {
					delete(r.subs, channel)
				}
			}
		})
	}
}

// dispatch calls every handler of channel outside the lock, so a handler
// may unsubscribe itself.
func (r *registry) dispatch(channel string, ev Event) int {
	r.mu.RLock()
	set := r.subs[channel]
	handlers := make([]Handler, 0, len(set))
	for _, h := range set {
		handlers = append(handlers, h)
	}
	r.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
	return len(handlers)
}

func (r *registry) dispatchRaw(channel string, payload []byte) error {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return fmt.Errorf("decode event on %s: %w", channel, err)
	}
	r.dispatch(channel, ev)
	return nil
}

// Subscribers reports how many local handlers channel has.
func (r *registry) Subscribers(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}
