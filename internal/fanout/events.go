package fanout

// Server -> client event names.
const (
	EventRoomUsers       = "room_users"
	EventMemberOnline    = "member:online"
	EventMemberOffline   = "member:offline"
	EventNewMessage      = "new_message"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"
	EventMessagesRead    = "messages_read"
	EventTyping          = "typing"
	EventStopTyping      = "stop_typing"
	EventNotification    = "notification"
	EventNotificationNew = "notification:new"
	EventError           = "error"
)
