// Package gateway serves long-lived client connections. Each connection is
// authenticated once at upgrade, then runs one dispatch loop that decodes
// typed commands and hands them to the chat service, the presence tracker
// and the fanout bus.
//
// A rejected command is answered with an error event and never closes the
// connection. Only a transport failure, the client going away, or shutdown
// ends a session, and ending it releases presence in every joined room.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/circlecast/internal/access"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/auth"
	"github.com/lalith-99/circlecast/internal/chat"
	"github.com/lalith-99/circlecast/internal/fanout"
	"github.com/lalith-99/circlecast/internal/models"
	"github.com/lalith-99/circlecast/internal/presence"
	"go.uber.org/zap"
)

// disconnectTimeout bounds the offline publishes made while tearing down a
// session whose request context is already gone.
const disconnectTimeout = 5 * time.Second

// Rooms is the slice of the chat service the gateway drives.
type Rooms interface {
	Authorize(ctx context.Context, userID, roomID uuid.UUID) (*access.Decision, error)
	SendMessage(ctx context.Context, senderID, roomID uuid.UUID, body string, msgType models.MessageType) (*models.Message, error)
	MarkRead(ctx context.Context, userID, roomID uuid.UUID) (*chat.ReadPayload, error)
	Typing(ctx context.Context, userID, roomID uuid.UUID, userName string) error
	StopTyping(ctx context.Context, userID, roomID uuid.UUID) error
}

// OfflinePayload is the member:offline event body.
type OfflinePayload struct {
	UserID uuid.UUID `json:"userId"`
}

type Options struct {
	// SendBuffer is the per-connection outbound queue length. A client that
	// falls this far behind is disconnected.
	SendBuffer int
}

type Gateway struct {
	rooms    Rooms
	bus      fanout.Bus
	presence *presence.Tracker
	sessions *sessions
	opts     Options
	logger   *zap.Logger
}

func New(rooms Rooms, bus fanout.Bus, tracker *presence.Tracker, opts Options, logger *zap.Logger) *Gateway {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 128
	}
	return &Gateway{
		rooms:    rooms,
		bus:      bus,
		presence: tracker,
		sessions: newSessions(),
		opts:     opts,
		logger:   logger,
	}
}

// ServeWS upgrades an already authenticated request and serves it until the
// client goes away.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request, id auth.Identity) error {
	conn, err := Upgrade(w, r, g.opts.SendBuffer)
	if err != nil {
		return err
	}
	g.Serve(r.Context(), conn, id)
	return nil
}

// Serve runs the dispatch loop for conn. It returns when conn fails or ctx
// ends, after the session has been cleaned up.
func (g *Gateway) Serve(ctx context.Context, conn Conn, id auth.Identity) {
	s := g.open(conn, id)
	defer g.Disconnect(s.ID)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		raw, err := conn.Read()
		if err != nil {
			if !isClosure(err) {
				g.logger.Debug("connection read failed",
					zap.String("session_id", s.ID), zap.Error(err))
			}
			return
		}
		g.handle(ctx, s, raw)
	}
}

func (g *Gateway) open(conn Conn, id auth.Identity) *Session {
	s := newSession(uuid.NewString(), id, conn)
	s.setUserSubscription(g.bus.Subscribe(fanout.UserChannel(id.UserID), s.forward))
	g.sessions.add(s)

	g.logger.Info("session opened",
		zap.String("session_id", s.ID),
		zap.Stringer("user_id", id.UserID),
		zap.Int("sessions", g.sessions.len()),
	)
	return s
}

// handle decodes and dispatches one frame. Every failure is reported to the
// client as an error event.
func (g *Gateway) handle(ctx context.Context, s *Session, raw []byte) {
	cmd, err := decodeCommand(raw)
	if err == nil {
		err = g.dispatch(ctx, s, cmd)
	}
	if err == nil {
		return
	}

	switch apperr.CodeOf(err) {
	case apperr.CodeInternal, apperr.CodeUnknown, apperr.CodeUnavailable:
		g.logger.Error("command failed",
			zap.String("session_id", s.ID),
			zap.Stringer("command", cmd.Kind),
			zap.Stringer("room_id", cmd.RoomID),
			zap.Error(err),
		)
	default:
		g.logger.Debug("command rejected",
			zap.String("session_id", s.ID),
			zap.Stringer("command", cmd.Kind),
			zap.Error(err),
		)
	}
	if err := s.emit(fanout.EventError, apperr.Message(err)); err != nil {
		g.logger.Debug("failed to deliver error event", zap.String("session_id", s.ID), zap.Error(err))
	}
}

func (g *Gateway) dispatch(ctx context.Context, s *Session, cmd Command) error {
	userID := s.Identity.UserID

	switch cmd.Kind {
	case KindJoinRoom:
		return g.join(ctx, s, cmd.RoomID)
	case KindLeaveRoom:
		return g.leave(ctx, s, cmd.RoomID)
	case KindTyping:
		name := cmd.UserName
		if name == "" {
			name = s.Identity.Name()
		}
		return g.rooms.Typing(ctx, userID, cmd.RoomID, name)
	case KindStopTyping:
		return g.rooms.StopTyping(ctx, userID, cmd.RoomID)
	case KindSendMessage:
		_, err := g.rooms.SendMessage(ctx, userID, cmd.RoomID, cmd.Body, cmd.Type)
		return err
	case KindMarkRead:
		_, err := g.rooms.MarkRead(ctx, userID, cmd.RoomID)
		return err
	default:
		return apperr.ErrUnknownEvent
	}
}

// join authorizes, subscribes the session to the room channel, registers
// presence, announces the member and replies with the room's online list.
// Joining a room twice refreshes presence without a second subscription.
func (g *Gateway) join(ctx context.Context, s *Session, roomID uuid.UUID) error {
	if _, err := g.rooms.Authorize(ctx, s.Identity.UserID, roomID); err != nil {
		return err
	}

	ok := s.joinRoom(roomID, func() func() {
		return g.bus.Subscribe(fanout.RoomChannel(roomID), s.forward)
	})
	if !ok {
		return nil
	}

	meta := s.presence()
	g.presence.Join(roomID, s.ID, meta)
	g.publish(ctx, fanout.RoomChannel(roomID), fanout.EventMemberOnline, meta)

	return s.emit(fanout.EventRoomUsers, g.presence.ListOnline(roomID))
}

func (g *Gateway) leave(ctx context.Context, s *Session, roomID uuid.UUID) error {
	unsub, ok := s.leaveRoom(roomID)
	if !ok {
		return apperr.ErrNotJoined
	}
	unsub()
	g.depart(ctx, s, roomID)
	return nil
}

// depart drops the session's presence in roomID and announces the user as
// offline when it was their last connection there.
func (g *Gateway) depart(ctx context.Context, s *Session, roomID uuid.UUID) {
	userID, offline := g.presence.Leave(roomID, s.ID)
	if offline {
		g.publish(ctx, fanout.RoomChannel(roomID), fanout.EventMemberOffline, OfflinePayload{UserID: userID})
	}
}

// Disconnect tears down a session: the user subscription, every room
// subscription and every presence entry. Calling it again, or for an
// unknown id, does nothing.
func (g *Gateway) Disconnect(sessionID string) {
	s, ok := g.sessions.remove(sessionID)
	if !ok {
		return
	}
	rooms, userSub, first := s.close()
	if !first {
		return
	}
	if userSub != nil {
		userSub()
	}

	ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
	defer cancel()
	for roomID, unsub := range rooms {
		unsub()
		g.depart(ctx, s, roomID)
	}
	_ = s.conn.Close()

	g.logger.Info("session closed",
		zap.String("session_id", s.ID),
		zap.Stringer("user_id", s.Identity.UserID),
		zap.Int("rooms", len(rooms)),
	)
}

// Shutdown closes every connection. Each session's own loop then runs its
// cleanup.
func (g *Gateway) Shutdown() {
	for _, s := range g.sessions.all() {
		_ = s.conn.Close()
	}
}

// Sessions reports how many connections this instance is serving.
func (g *Gateway) Sessions() int {
	return g.sessions.len()
}

// Session looks up a live session by connection id.
func (g *Gateway) Session(id string) (*Session, bool) {
	return g.sessions.get(id)
}

func (g *Gateway) publish(ctx context.Context, channel, event string, data any) {
	if err := g.bus.Publish(ctx, channel, event, data); err != nil {
		g.logger.Warn("fanout failed",
			zap.String("channel", channel), zap.String("event", event), zap.Error(err))
	}
}

func isClosure(err error) bool {
	return errors.Is(err, ErrConnClosed) ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
