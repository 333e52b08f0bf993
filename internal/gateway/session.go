package gateway

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/auth"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/models"
)

// Session is the state of one authenticated connection. Fields are only
// changed through the methods below.
type Session struct {
	ID       string
	Identity auth.Identity

	conn Conn

	mu      sync.Mutex
	rooms   map[uuid.UUID]func() // room -> fanout unsubscribe
	userSub func()
	closed  bool
}

func newSession(id string, identity auth.Identity, conn Conn) *Session {
	return &Session{
		ID:       id,
		Identity: identity,
		conn:     conn,
		rooms:    make(map[uuid.UUID]func()),
	}
}

func (s *Session) presence() models.PresenceMeta {
	return models.PresenceMeta{
		UserID:      s.Identity.UserID,
		DisplayName: s.Identity.Name(),
		PhotoURL:    s.Identity.PhotoURL,
	}
}

// setUserSubscription records the user-channel subscription.
func (s *Session) setUserSubscription(unsub func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userSub = unsub
}

// joinRoom subscribes the session to roomID once. Joining a room again
// keeps the existing subscription. It returns false when the session has
// already closed.
func (s *Session) joinRoom(roomID uuid.UUID, subscribe func() func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = subscribe()
	}
	return true
}

// leaveRoom forgets roomID and returns its unsubscribe func.
func (s *Session) leaveRoom(roomID uuid.UUID) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	unsub, ok := s.rooms[roomID]
	if ok {
		delete(s.rooms, roomID)
	}
	return unsub, ok
}

func (s *Session) joined(roomID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.rooms[roomID]
	return ok
}

// Rooms returns the rooms the session has joined.
func (s *Session) Rooms() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]uuid.UUID, 0, len(s.rooms))
	for id := range s.rooms {
		out = append(out, id)
	}
	return out
}

// close marks the session closed and hands back every subscription so the
// caller can release them. Only the first call returns anything.
func (s *Session) close() (rooms map[uuid.UUID]func(), userSub func(), first bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, false
	}
	s.closed = true
	rooms, userSub = s.rooms, s.userSub
	s.rooms = make(map[uuid.UUID]func())
	s.userSub = nil
	return rooms, userSub, true
}

// forward is the fanout handler for every channel the session listens to.
// It must not block, and Conn.Send does not.
func (s *Session) forward(ev fanout.Event) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_ = s.conn.Send(raw)
}

func (s *Session) emit(event string, data any) error {
	ev, err := fanout.NewEvent(event, data)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Send(raw)
}

// sessions is the connection id -> Session table.
type sessions struct {
	mu   sync.RWMutex
	byID map[string]*Session
}

func newSessions() *sessions {
	return &sessions{byID: make(map[string]*Session)}
}

func (t *sessions) add(s *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID[s.ID] = s
}

func (t *sessions) remove(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.byID[id]
	if ok {
		delete(t.byID, id)
	}
	return s, ok
}

func (t *sessions) get(id string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.byID[id]
	return s, ok
}

func (t *sessions) all() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Session, 0, len(t.byID))
	for _, s := range t.byID {
		out = append(out, s)
	}
	return out
}

func (t *sessions) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}
