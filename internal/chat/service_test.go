package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/access"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/cache"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/mention"
	"github.com/lalith-99/circlecast/internal/messages"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/notify"
	"github.com/lalith-99/circlecast/internal/repository/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingDispatcher struct {
	mu   sync.Mutex
	reqs []notify.Request
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, reqs []notify.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.reqs = append(d.reqs, reqs...)
	return nil
}

func (d *recordingDispatcher) byRecipient() map[uuid.UUID]notify.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[uuid.UUID]notify.Request)
	for _, r := range d.reqs {
		out[r.RecipientID] = r
	}
	return out
}

type roomFeed struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (f *roomFeed) handle(ev fanout.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *roomFeed) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Name)
	}
	return out
}

func (f *roomFeed) last() fanout.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

type brokenUsers struct{}

func (brokenUsers) GetByID(context.Context, uuid.UUID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func (brokenUsers) IDsByUsernames(context.Context, []string) (map[string]uuid.UUID, error) {
	return nil, errors.New("connection refused")
}

type failingBus struct{}

func (failingBus) Publish(context.Context, string, string, any) error {
	return apperr.Unavailable("fanout broker unavailable", errors.New("connection refused"))
}

type fixture struct {
	svc      *Service
	store    *memory.Store
	msgs     *memory.MessageStore
	collabs  *memory.CollabStore
	dispatch *recordingDispatcher
	feed     *roomFeed

	room     models.Room
	alice    models.User
	bob      models.User
	carol    models.User
	stranger models.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	f := &fixture{
		store:    store,
		msgs:     memory.NewMessageStore(),
		dispatch: &recordingDispatcher{},
		feed:     &roomFeed{},
	}
	f.alice = store.AddUser("alice", "Alice")
	f.bob = store.AddUser("bob", "Bob")
	f.carol = store.AddUser("carol", "Carol")
	f.stranger = store.AddUser("stranger", "Stranger")

	// alice created the room but has no membership row
	f.room = store.AddRoom("general", f.alice.ID)
	store.SetMembership(f.room.ID, f.bob.ID, models.RoleMember, models.StatusAccepted)
	store.SetMembership(f.room.ID, f.carol.ID, models.RoleMember, models.StatusAccepted)

	bus := fanout.NewLocalBus()
	bus.Subscribe(fanout.RoomChannel(f.room.ID), f.feed.handle)

	f.collabs = memory.NewCollabStore(store)
	f.svc = f.build(t, bus)
	return f
}

func (f *fixture) build(t *testing.T, bus fanout.Publisher) *Service {
	logger := zaptest.NewLogger(t)
	msgs := messages.NewStore(f.msgs, f.store, cache.Nop{}, time.Minute, 50, logger)
	return NewService(access.NewBroker(f.store, f.store), msgs, f.store.Users(), f.collabs, bus, f.dispatch, 100, logger)
}

func TestSendMessage_PublishesAndNotifiesOtherMembers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	msg, err := f.svc.SendMessage(ctx, f.alice.ID, f.room.ID, "  hello team  ", "")
	require.NoError(t, err)
	assert.Equal(t, "hello team", msg.Body)
	assert.Equal(t, models.MessageText, msg.Type)

	assert.Equal(t, []string{fanout.EventNewMessage}, f.feed.names())
	var published models.Message
	require.NoError(t, json.Unmarshal(f.feed.last().Data, &published))
	assert.Equal(t, msg.ID, published.ID)

	got := f.dispatch.byRecipient()
	require.Len(t, got, 2)
	assert.NotContains(t, got, f.alice.ID)
	for _, id := range []uuid.UUID{f.bob.ID, f.carol.ID} {
		req := got[id]
		assert.Equal(t, models.NotifyNewMessage, req.Type)
		assert.Equal(t, "Alice in general", req.Title)
		assert.Equal(t, "hello team", req.Body)
		require.NotNil(t, req.Link)
		assert.Equal(t, "/circles/"+f.room.ID.String(), *req.Link)
		assert.Equal(t, f.alice.ID, req.ActorID)
	}
}

func TestSendMessage_Mentions(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		wantMentioned []string
	}{
		{"single handle", "@bob can you look", []string{"bob"}},
		{"case insensitive", "@BOB ping", []string{"bob"}},
		{"everyone", "@all standup", []string{"bob", "carol"}},
		{"non-member handle", "@stranger hi", nil},
		{"self mention", "@alice note to self", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			_, err := f.svc.SendMessage(ctx, f.alice.ID, f.room.ID, tt.body, models.MessageText)
			require.NoError(t, err)

			users := map[string]uuid.UUID{"bob": f.bob.ID, "carol": f.carol.ID}
			got := f.dispatch.byRecipient()
			require.Len(t, got, 2)
			for name, id := range users {
				want := models.NotifyNewMessage
				for _, m := range tt.wantMentioned {
					if m == name {
						want = models.NotifyMention
					}
				}
				assert.Equal(t, want, got[id].Type, name)
				if want == models.NotifyMention {
					assert.Equal(t, "Alice mentioned you", got[id].Title)
				}
			}
		})
	}
}

func TestSendMessage_Rejections(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		sender  uuid.UUID
		room    uuid.UUID
		body    string
		typ     models.MessageType
		wantErr error
	}{
		{"non-member", f.stranger.ID, f.room.ID, "hi", models.MessageText, apperr.ErrRoomAccessDenied},
		{"unknown room", f.bob.ID, uuid.New(), "hi", models.MessageText, apperr.ErrRoomNotFound},
		{"empty body", f.bob.ID, f.room.ID, "   ", models.MessageText, apperr.ErrEmptyMessageBody},
		{"unknown type", f.bob.ID, f.room.ID, "hi", "video", apperr.ErrInvalidMessageType},
		{"too large", f.bob.ID, f.room.ID, strings.Repeat("x", MaxBodyRunes+1), models.MessageText, apperr.ErrMessageBodyTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := f.svc.SendMessage(context.Background(), tt.sender, tt.room, tt.body, tt.typ)
			require.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, msg)
		})
	}

	assert.Empty(t, f.feed.names())
	assert.Empty(t, f.dispatch.byRecipient())
	stored, err := f.msgs.GetByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestSendMessage_AppendFailureIsHardAndSilent(t *testing.T) {
	f := newFixture(t)
	f.msgs.CreateErr = errors.New("disk full")

	msg, err := f.svc.SendMessage(context.Background(), f.bob.ID, f.room.ID, "hi", models.MessageText)
	require.Error(t, err)
	assert.Nil(t, msg)
	assert.Equal(t, apperr.CodeInternal, apperr.CodeOf(err))
	assert.Equal(t, "failed to send message", apperr.Message(err))

	assert.Empty(t, f.feed.names())
	assert.Empty(t, f.dispatch.byRecipient())
}

func TestSendMessage_BestEffortAfterWrite(t *testing.T) {
	t.Run("fanout down", func(t *testing.T) {
		f := newFixture(t)
		svc := f.build(t, failingBus{})

		msg, err := svc.SendMessage(context.Background(), f.bob.ID, f.room.ID, "hi", models.MessageText)
		require.NoError(t, err)
		stored, err := f.msgs.GetByID(context.Background(), msg.ID)
		require.NoError(t, err)
		assert.NotNil(t, stored)
		assert.Len(t, f.dispatch.byRecipient(), 2)
	})

	t.Run("dispatcher down", func(t *testing.T) {
		f := newFixture(t)
		f.dispatch.err = apperr.Unavailable("notification queue full", nil)

		msg, err := f.svc.SendMessage(context.Background(), f.bob.ID, f.room.ID, "hi", models.MessageText)
		require.NoError(t, err)
		assert.NotNil(t, msg)
		assert.Equal(t, []string{fanout.EventNewMessage}, f.feed.names())
	})

	t.Run("user lookup down", func(t *testing.T) {
		f := newFixture(t)
		logger := zaptest.NewLogger(t)
		svc := NewService(access.NewBroker(f.store, f.store),
			messages.NewStore(f.msgs, f.store, cache.Nop{}, time.Minute, 50, logger),
			brokenUsers{}, f.collabs, fanout.NewLocalBus(), f.dispatch, 100, logger)

		msg, err := svc.SendMessage(context.Background(), f.bob.ID, f.room.ID, "hi @carol", models.MessageText)
		require.NoError(t, err)
		assert.NotNil(t, msg)
		assert.Empty(t, f.dispatch.byRecipient())
	})
}

func TestFetchMessages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	var ids []int64
	for _, body := range []string{"one", "two", "three"} {
		m, err := f.svc.SendMessage(ctx, f.bob.ID, f.room.ID, body, models.MessageText)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	all, err := f.svc.FetchMessages(ctx, f.carol.ID, f.room.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "three", all[0].Body)

	older, err := f.svc.FetchMessages(ctx, f.carol.ID, f.room.ID, ids[2], 10)
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "two", older[0].Body)

	capped, err := f.svc.FetchMessages(ctx, f.carol.ID, f.room.ID, 0, 10_000)
	require.NoError(t, err)
	assert.Len(t, capped, 3)

	_, err = f.svc.FetchMessages(ctx, f.stranger.ID, f.room.ID, 0, 0)
	require.ErrorIs(t, err, apperr.ErrRoomAccessDenied)
}

func TestEditMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg, err := f.svc.SendMessage(ctx, f.bob.ID, f.room.ID, "helo", models.MessageText)
	require.NoError(t, err)

	other := f.store.AddRoom("other", f.bob.ID)

	tests := []struct {
		name    string
		user    uuid.UUID
		room    uuid.UUID
		id      int64
		body    string
		wantErr error
	}{
		{"not the sender", f.carol.ID, f.room.ID, msg.ID, "x", apperr.ErrMessageNotSender},
		{"wrong room", f.bob.ID, other.ID, msg.ID, "x", apperr.ErrMessageNotFound},
		{"missing message", f.bob.ID, f.room.ID, msg.ID + 100, "x", apperr.ErrMessageNotFound},
		{"empty body", f.bob.ID, f.room.ID, msg.ID, "", apperr.ErrEmptyMessageBody},
		{"non-member", f.stranger.ID, f.room.ID, msg.ID, "x", apperr.ErrRoomAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.EditMessage(ctx, tt.user, tt.room, tt.id, tt.body)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	edited, err := f.svc.EditMessage(ctx, f.bob.ID, f.room.ID, msg.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Body)
	assert.Equal(t, fanout.EventMessageUpdated, f.feed.last().Name)
}

func TestDeleteMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	msg, err := f.svc.SendMessage(ctx, f.bob.ID, f.room.ID, "oops", models.MessageText)
	require.NoError(t, err)

	require.ErrorIs(t, f.svc.DeleteMessage(ctx, f.carol.ID, f.room.ID, msg.ID), apperr.ErrMessageNotSender)

	require.NoError(t, f.svc.DeleteMessage(ctx, f.bob.ID, f.room.ID, msg.ID))
	ev := f.feed.last()
	assert.Equal(t, fanout.EventMessageDeleted, ev.Name)
	assert.JSONEq(t, `{"messageId":`+jsonInt(msg.ID)+`,"roomId":"`+f.room.ID.String()+`"}`, string(ev.Data))

	require.ErrorIs(t, f.svc.DeleteMessage(ctx, f.bob.ID, f.room.ID, msg.ID), apperr.ErrMessageNotFound)
}

func jsonInt(n int64) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func TestMarkRead_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for _, body := range []string{"one", "two"} {
		_, err := f.svc.SendMessage(ctx, f.alice.ID, f.room.ID, body, models.MessageText)
		require.NoError(t, err)
	}

	for i := 0; i < 2; i++ {
		ev, err := f.svc.MarkRead(ctx, f.bob.ID, f.room.ID)
		require.NoError(t, err)
		assert.Equal(t, f.bob.ID, ev.UserID)
		assert.Equal(t, fanout.EventMessagesRead, f.feed.last().Name)
	}

	msgs, err := f.svc.FetchMessages(ctx, f.bob.ID, f.room.ID, 0, 0)
	require.NoError(t, err)
	for _, m := range msgs {
		require.Len(t, m.ReadBy, 1)
		assert.Equal(t, f.bob.ID, m.ReadBy[0].ReaderID)
	}

	_, err = f.svc.MarkRead(ctx, f.stranger.ID, f.room.ID)
	require.ErrorIs(t, err, apperr.ErrRoomAccessDenied)
}

func TestTyping(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.Typing(ctx, f.bob.ID, f.room.ID, "Bob"))
	assert.JSONEq(t,
		`{"roomId":"`+f.room.ID.String()+`","userId":"`+f.bob.ID.String()+`","userName":"Bob"}`,
		string(f.feed.last().Data))

	require.NoError(t, f.svc.StopTyping(ctx, f.bob.ID, f.room.ID))
	assert.Equal(t, []string{fanout.EventTyping, fanout.EventStopTyping}, f.feed.names())

	require.ErrorIs(t, f.svc.Typing(ctx, f.stranger.ID, f.room.ID, "S"), apperr.ErrRoomAccessDenied)
	require.ErrorIs(t, f.svc.StopTyping(ctx, f.stranger.ID, f.room.ID), apperr.ErrRoomAccessDenied)
	assert.Len(t, f.feed.names(), 2)
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 130)
	tests := []struct {
		name string
		msg  models.Message
		want string
	}{
		{"short text", models.Message{Body: "hi", Type: models.MessageText}, "hi"},
		{"image", models.Message{Body: "https://cdn/x.png", Type: models.MessageImage}, "Sent an image"},
		{"long text truncated by rune", models.Message{Body: long, Type: models.MessageText}, strings.Repeat("é", 120) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Preview(&tt.msg))
		})
	}
}

func TestBuildRequests(t *testing.T) {
	sender, a, b := uuid.New(), uuid.New(), uuid.New()
	room := &models.Room{ID: uuid.New(), Name: "design"}
	msg := &models.Message{SenderID: sender, Body: "look", Type: models.MessageText}
	mentioned := mention.Set{b: {}}

	reqs := buildRequests(room, "Sam", msg, []uuid.UUID{sender, a, b}, mentioned)
	require.Len(t, reqs, 2)
	assert.Equal(t, a, reqs[0].RecipientID)
	assert.Equal(t, "Sam in design", reqs[0].Title)
	assert.Equal(t, models.NotifyNewMessage, reqs[0].Type)
	assert.Equal(t, b, reqs[1].RecipientID)
	assert.Equal(t, "Sam mentioned you", reqs[1].Title)
	assert.Equal(t, models.NotifyMention, reqs[1].Type)
}
