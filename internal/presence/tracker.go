// Package presence tracks which users have a connection joined to a room on
// this process. Other instances learn about presence through fanout events,
// never through this tracker.
package presence

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/models"
)

type entry struct {
	meta models.PresenceMeta
	seq  uint64
}

// Tracker is keyed per connection so two tabs of the same user are two
// entries; reads collapse them to one per user.
type Tracker struct {
	mu    sync.Mutex
	seq   uint64
	rooms map[uuid.UUID]map[string]entry // room -> connection -> entry
}

func NewTracker() *Tracker {
	return &Tracker{rooms: make(map[uuid.UUID]map[string]entry)}
}

// Join registers connID in roomID. Joining again replaces the metadata and
// makes it the most recent registration for that user.
func (t *Tracker) Join(roomID uuid.UUID, connID string, meta models.PresenceMeta) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := t.rooms[roomID]
	if conns == nil {
		conns = make(map[string]entry)
		t.rooms[roomID] = conns
	}
	t.seq++
	conns[connID] = entry{meta: meta, seq: t.seq}
}

// Leave removes connID from roomID. It reports the user that left and
// whether that was their last connection in the room, which is when an
// offline event is due. Unknown (room, connection) pairs are a no-op, so
// repeated disconnect signals are safe.
func (t *Tracker) Leave(roomID uuid.UUID, connID string) (userID uuid.UUID, offline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conns := t.rooms[roomID]
	e, ok := conns[connID]
	if !ok {
		return uuid.Nil, false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(t.rooms, roomID)
		return e.meta.UserID, true
	}

	for _, other := range conns {
		if other.meta.UserID == e.meta.UserID {
			return e.meta.UserID, false
		}
	}
	return e.meta.UserID, true
}

// ListOnline returns one entry per user in roomID, using the metadata of
// that user's most recent registration, ordered by registration.
func (t *Tracker) ListOnline(roomID uuid.UUID) []models.PresenceMeta {
	t.mu.Lock()
	latest := make(map[uuid.UUID]entry)
	for _, e := range t.rooms[roomID] {
		if cur, ok := latest[e.meta.UserID]; !ok || e.seq > cur.seq {
			latest[e.meta.UserID] = e
		}
	}
	t.mu.Unlock()

	entries := make([]entry, 0, len(latest))
	for _, e := range latest {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]models.PresenceMeta, len(entries))
	for i, e := range entries {
		out[i] = e.meta
	}
	return out
}

// IsOnline reports whether userID has any connection joined to roomID.
func (t *Tracker) IsOnline(roomID, userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.rooms[roomID] {
		if e.meta.UserID == userID {
			return true
		}
	}
	return false
}
