package gateway

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/lalith-99/circlecast/internal/apperr"
	"github.com/lalith-99/circlecast/internal/models"
)

// Kind is a client command.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoinRoom
	KindLeaveRoom
	KindTyping
	KindStopTyping
	KindSendMessage
	KindMarkRead
)

var kindNames = map[string]Kind{
	"join_room":    KindJoinRoom,
	"leave_room":   KindLeaveRoom,
	"typing":       KindTyping,
	"stop_typing":  KindStopTyping,
	"send_message": KindSendMessage,
	"mark_read":    KindMarkRead,
}

func (k Kind) String() string {
	for name, kind := range kindNames {
		if kind == k {
			return name
		}
	}
	return "unknown"
}

// Command is one decoded client frame. Only the fields of its Kind are set.
type Command struct {
	Kind     Kind
	RoomID   uuid.UUID
	UserName string
	Body     string
	Type     models.MessageType
}

// frame is the wire envelope in both directions.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type payload struct {
	RoomID   uuid.UUID          `json:"roomId"`
	UserName string             `json:"userName"`
	Body     string             `json:"body"`
	Type     models.MessageType `json:"type"`
}

// decodeCommand parses a client frame. join_room and leave_room accept
// either a bare room id string or {"roomId": ...}; the other commands take
// an object. Unknown event names return apperr.ErrUnknownEvent.
func decodeCommand(raw []byte) (Command, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return Command{}, apperr.ErrBadPayload
	}
	kind, ok := kindNames[f.Event]
	if !ok {
		return Command{}, apperr.ErrUnknownEvent
	}

	cmd := Command{Kind: kind}
	data := bytes.TrimSpace(f.Data)
	if len(data) > 0 && data[0] == '"' {
		if kind != KindJoinRoom && kind != KindLeaveRoom {
			return Command{}, apperr.ErrBadPayload
		}
		if err := json.Unmarshal(data, &cmd.RoomID); err != nil {
			return Command{}, apperr.ErrBadPayload
		}
		return cmd, nil
	}

	var p payload
	if len(data) == 0 || json.Unmarshal(data, &p) != nil {
		return Command{}, apperr.ErrBadPayload
	}
	if p.RoomID == uuid.Nil {
		return Command{}, apperr.ErrBadPayload
	}
	cmd.RoomID = p.RoomID
	cmd.UserName = p.UserName
	cmd.Body = p.Body
	cmd.Type = p.Type
	return cmd, nil
}
