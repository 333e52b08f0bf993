package presence

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/stretchr/testify/assert"
)

func meta(id uuid.UUID, name string) models.PresenceMeta {
	return models.PresenceMeta{UserID: id, DisplayName: name}
}

func TestListOnline_DedupesPerUser(t *testing.T) {
	tr := NewTracker()
	room := uuid.New()
	alice, bob := uuid.New(), uuid.New()

	tr.Join(room, "tab-1", meta(alice, "Alice"))
	tr.Join(room, "bob-1", meta(bob, "Bob"))
	tr.Join(room, "tab-2", meta(alice, "Alice (mobile)"))

	got := tr.ListOnline(room)
	assert.Len(t, got, 2)
	assert.Equal(t, []models.PresenceMeta{meta(bob, "Bob"), meta(alice, "Alice (mobile)")}, got)
}

func TestLeave_OfflineOnlyAfterLastConnection(t *testing.T) {
	tr := NewTracker()
	room := uuid.New()
	alice := uuid.New()

	tr.Join(room, "tab-1", meta(alice, "Alice"))
	tr.Join(room, "tab-2", meta(alice, "Alice"))

	user, offline := tr.Leave(room, "tab-1")
	assert.Equal(t, alice, user)
	assert.False(t, offline)
	assert.True(t, tr.IsOnline(room, alice))
	assert.Len(t, tr.ListOnline(room), 1)

	user, offline = tr.Leave(room, "tab-2")
	assert.Equal(t, alice, user)
	assert.True(t, offline)
	assert.False(t, tr.IsOnline(room, alice))
	assert.Empty(t, tr.ListOnline(room))
}

func TestLeave_UnknownIsNoop(t *testing.T) {
	tr := NewTracker()
	room := uuid.New()
	tr.Join(room, "c1", meta(uuid.New(), "Alice"))

	tests := []struct {
		name   string
		room   uuid.UUID
		connID string
	}{
		{"unknown room", uuid.New(), "c1"},
		{"unknown connection", room, "c2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, offline := tr.Leave(tt.room, tt.connID)
			assert.Equal(t, uuid.Nil, user)
			assert.False(t, offline)
		})
	}
	assert.Len(t, tr.ListOnline(room), 1)
}

func TestLeave_Twice(t *testing.T) {
	tr := NewTracker()
	a, b := uuid.New(), uuid.New()
	alice := uuid.New()
	tr.Join(a, "c1", meta(alice, "Alice"))
	tr.Join(b, "c1", meta(alice, "Alice"))

	for i := 0; i < 2; i++ {
		tr.Leave(a, "c1")
		tr.Leave(b, "c1")
	}
	assert.Empty(t, tr.ListOnline(a))
	assert.Empty(t, tr.ListOnline(b))
}

func TestRoomsAreIndependent(t *testing.T) {
	tr := NewTracker()
	a, b := uuid.New(), uuid.New()
	alice := uuid.New()
	tr.Join(a, "c1", meta(alice, "Alice"))
	tr.Join(b, "c1", meta(alice, "Alice"))

	_, offline := tr.Leave(a, "c1")
	assert.True(t, offline)
	assert.Empty(t, tr.ListOnline(a))
	assert.Len(t, tr.ListOnline(b), 1)
}

func TestConcurrentJoinLeave(t *testing.T) {
	tr := NewTracker()
	room := uuid.New()
	user := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn := uuid.NewString()
			tr.Join(room, conn, meta(user, "U"))
			_ = tr.ListOnline(room)
			tr.Leave(room, conn)
		}(i)
	}
	wg.Wait()
	assert.Empty(t, tr.ListOnline(room))
}
