package chat

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collabFixture adds a second room owned by dan, with erin as a plain
// member and bob in both rooms.
type collabFixture struct {
	*fixture
	target models.Room
	dan    models.User
	erin   models.User
}

func newCollabFixture(t *testing.T) *collabFixture {
	f := newFixture(t)
	c := &collabFixture{fixture: f}
	c.dan = f.store.AddUser("dan", "Dan")
	c.erin = f.store.AddUser("erin", "Erin")
	c.target = f.store.AddRoom("design", c.dan.ID)
	f.store.SetMembership(c.target.ID, c.erin.ID, models.RoleMember, models.StatusAccepted)
	f.store.SetMembership(c.target.ID, f.bob.ID, models.RoleMember, models.StatusAccepted)
	return c
}

func TestCreateCollabRequest(t *testing.T) {
	ctx := context.Background()
	c := newCollabFixture(t)

	req, err := c.svc.CreateCollabRequest(ctx, c.carol.ID, c.room.ID, c.target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollabPending, req.Status)
	assert.Equal(t, c.carol.ID, req.RequesterID)

	again, err := c.svc.CreateCollabRequest(ctx, c.bob.ID, c.room.ID, c.target.ID)
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID, "pending duplicate is absorbed")
}

func TestCreateCollabRequest_Rejections(t *testing.T) {
	c := newCollabFixture(t)

	tests := []struct {
		name    string
		user    uuid.UUID
		from    uuid.UUID
		to      uuid.UUID
		wantErr error
	}{
		{"same room", c.bob.ID, c.room.ID, c.room.ID, apperr.ErrCollabSameRoom},
		{"not in source room", c.erin.ID, c.room.ID, c.target.ID, apperr.ErrRoomAccessDenied},
		{"unknown target", c.bob.ID, c.room.ID, uuid.New(), apperr.ErrRoomNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.svc.CreateCollabRequest(context.Background(), tt.user, tt.from, tt.to)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAcceptCollabRequest(t *testing.T) {
	ctx := context.Background()
	c := newCollabFixture(t)
	req, err := c.svc.CreateCollabRequest(ctx, c.carol.ID, c.room.ID, c.target.ID)
	require.NoError(t, err)

	_, err = c.svc.AcceptCollabRequest(ctx, c.erin.ID, req.ID)
	require.ErrorIs(t, err, apperr.ErrNotRoomAdmin)

	accepted, err := c.svc.AcceptCollabRequest(ctx, c.dan.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CollabAccepted, accepted.Status)
	require.NotNil(t, accepted.TempRoomID)

	temp, err := c.store.GetByID(ctx, *accepted.TempRoomID)
	require.NoError(t, err)
	require.NotNil(t, temp)
	assert.True(t, temp.IsTemporary)
	assert.Equal(t, "general + design", temp.Name)
	// alice, bob, carol from general; dan, erin from design; bob only once
	assert.Equal(t, 5, temp.MemberCount)

	members, err := c.store.ListAcceptedUserIDs(ctx, temp.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{c.alice.ID, c.bob.ID, c.carol.ID, c.dan.ID, c.erin.ID}, members)

	dan, err := c.store.Get(ctx, temp.ID, c.dan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, dan.Role)

	got := c.dispatch.byRecipient()
	assert.Len(t, got, 4)
	assert.NotContains(t, got, c.dan.ID)
	for _, r := range got {
		assert.Equal(t, models.NotifyCollabAccepted, r.Type)
		assert.Equal(t, "Dan opened a shared circle", r.Title)
		assert.Equal(t, RoomLink(temp.ID), *r.Link)
	}

	// everyone in the new room can chat there
	_, err = c.svc.SendMessage(ctx, c.erin.ID, temp.ID, "hello both teams", models.MessageText)
	require.NoError(t, err)
}

func TestAcceptCollabRequest_Twice(t *testing.T) {
	ctx := context.Background()
	c := newCollabFixture(t)
	req, err := c.svc.CreateCollabRequest(ctx, c.carol.ID, c.room.ID, c.target.ID)
	require.NoError(t, err)

	first, err := c.svc.AcceptCollabRequest(ctx, c.dan.ID, req.ID)
	require.NoError(t, err)
	notified := len(c.dispatch.byRecipient())

	second, err := c.svc.AcceptCollabRequest(ctx, c.dan.ID, req.ID)
	require.NoError(t, err)
	assert.Equal(t, *first.TempRoomID, *second.TempRoomID)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	assert.Len(t, c.dispatch.byRecipient(), notified)
}

func TestAcceptCollabRequest_NotFound(t *testing.T) {
	c := newCollabFixture(t)
	_, err := c.svc.AcceptCollabRequest(context.Background(), c.dan.ID, uuid.New())
	require.ErrorIs(t, err, apperr.ErrCollabRequestNotFound)
}
