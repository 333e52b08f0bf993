package apperr

var (
	ErrMissingCredential = Unauthenticated("missing credential")
	ErrInvalidCredential = Unauthenticated("invalid or expired credential")

	ErrRoomNotFound     = NotFound("room not found")
	ErrRoomAccessDenied = NotAuthorized("you are not a member of this room")
	ErrNotRoomAdmin     = NotAuthorized("only room admins can do this")

	ErrMessageNotFound     = NotFound("message not found")
	ErrMessageNotSender    = NotAuthorized("only the sender can change this message")
	ErrEmptyMessageBody    = Invalid("message body is required")
	ErrInvalidMessageType  = Invalid("message type must be text, image or system")
	ErrMessageBodyTooLarge = Invalid("message body is too large")

	ErrNotificationNotFound = NotFound("notification not found")

	ErrCollabRequestNotFound = NotFound("collaboration request not found")
	ErrCollabRequestClosed   = Conflict("collaboration request is no longer pending")
	ErrCollabSameRoom        = Invalid("cannot collaborate a room with itself")

	ErrNotJoined    = Invalid("join the room first")
	ErrUnknownEvent = Invalid("unknown event")
	ErrBadPayload   = Invalid("malformed event payload")
)
