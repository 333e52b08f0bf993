package access

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_Authorize(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	creator := store.AddUser("creator", "Creator")
	member := store.AddUser("member", "Member")
	admin := store.AddUser("admin", "Admin")
	pending := store.AddUser("pending", "Pending")
	rejected := store.AddUser("rejected", "Rejected")
	stranger := store.AddUser("stranger", "Stranger")

	room := store.AddRoom("circle", creator.ID)
	store.SetMembership(room.ID, member.ID, models.RoleMember, models.StatusAccepted)
	store.SetMembership(room.ID, admin.ID, models.RoleAdmin, models.StatusAccepted)
	store.SetMembership(room.ID, pending.ID, models.RoleMember, models.StatusPending)
	store.SetMembership(room.ID, rejected.ID, models.RoleMember, models.StatusRejected)

	broker := NewBroker(store, store)

	tests := []struct {
		name        string
		user        uuid.UUID
		room        uuid.UUID
		wantErr     error
		wantRole    models.Role
		wantCreator bool
	}{
		{"accepted member", member.ID, room.ID, nil, models.RoleMember, false},
		{"accepted admin", admin.ID, room.ID, nil, models.RoleAdmin, false},
		{"creator without membership row", creator.ID, room.ID, nil, models.RoleAdmin, true},
		{"pending membership", pending.ID, room.ID, apperr.ErrRoomAccessDenied, "", false},
		{"rejected membership", rejected.ID, room.ID, apperr.ErrRoomAccessDenied, "", false},
		{"no membership", stranger.ID, room.ID, apperr.ErrRoomAccessDenied, "", false},
		{"unknown room", member.ID, uuid.New(), apperr.ErrRoomNotFound, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := broker.Authorize(ctx, tt.user, tt.room)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantRole, d.Role)
			assert.Equal(t, tt.wantCreator, d.ViaCreator)
			assert.Equal(t, room.ID, d.Room.ID)
		})
	}
}

func TestBroker_NotFoundAndNotAuthorizedAreDistinct(t *testing.T) {
	store := memory.NewStore()
	u := store.AddUser("u", "U")
	room := store.AddRoom("r", uuid.New())
	broker := NewBroker(store, store)

	_, errMissing := broker.Authorize(context.Background(), u.ID, uuid.New())
	_, errDenied := broker.Authorize(context.Background(), u.ID, room.ID)

	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(errMissing))
	assert.Equal(t, apperr.CodeNotAuthorized, apperr.CodeOf(errDenied))
}

func TestBroker_SeesMembershipChangesImmediately(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	u := store.AddUser("u", "U")
	room := store.AddRoom("r", uuid.New())
	broker := NewBroker(store, store)

	_, err := broker.Authorize(ctx, u.ID, room.ID)
	require.ErrorIs(t, err, apperr.ErrRoomAccessDenied)

	store.SetMembership(room.ID, u.ID, models.RoleMember, models.StatusAccepted)
	_, err = broker.Authorize(ctx, u.ID, room.ID)
	require.NoError(t, err)

	store.SetMembership(room.ID, u.ID, models.RoleMember, models.StatusRejected)
	_, err = broker.Authorize(ctx, u.ID, room.ID)
	require.ErrorIs(t, err, apperr.ErrRoomAccessDenied)
}

func TestBroker_StoreFailureIsNotAnAuthDecision(t *testing.T) {
	store := memory.NewStore()
	store.Err = errors.New("connection refused")
	broker := NewBroker(store, store)

	_, err := broker.Authorize(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUnknown, apperr.CodeOf(err))
}

func TestBroker_AuthorizeAdmin(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	creator := store.AddUser("c", "C")
	member := store.AddUser("m", "M")
	room := store.AddRoom("r", creator.ID)
	store.SetMembership(room.ID, member.ID, models.RoleMember, models.StatusAccepted)
	broker := NewBroker(store, store)

	_, err := broker.AuthorizeAdmin(ctx, creator.ID, room.ID)
	require.NoError(t, err)

	_, err = broker.AuthorizeAdmin(ctx, member.ID, room.ID)
	require.ErrorIs(t, err, apperr.ErrNotRoomAdmin)
}

func TestBroker_MembersIncludesCreator(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	creator := store.AddUser("c", "C")
	member := store.AddUser("m", "M")
	room := store.AddRoom("r", creator.ID)
	store.SetMembership(room.ID, member.ID, models.RoleMember, models.StatusAccepted)
	broker := NewBroker(store, store)

	ids, err := broker.Members(ctx, &room)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{creator.ID, member.ID}, ids)

	store.SetMembership(room.ID, creator.ID, models.RoleAdmin, models.StatusAccepted)
	ids, err = broker.Members(ctx, &room)
	require.NoError(t, err)
	assert.Len(t, ids, 2)
}

func TestBroker_Room(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	room := store.AddRoom("r", uuid.New())
	broker := NewBroker(store, store)

	got, err := broker.Room(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	_, err = broker.Room(ctx, uuid.New())
	require.ErrorIs(t, err, apperr.ErrRoomNotFound)
}
