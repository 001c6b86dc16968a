package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeHello      = "hello"
	InboundTypeJoin       = "join"
	InboundTypeLeave      = "leave"
	InboundTypeNewMessage = "new_message"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventReady            = "ready"
	EventJoined           = "joined"
	EventLeft             = "left"
	EventReceiveMessage   = "receive_message"
	EventMessageRead      = "message_read"
	EventConversationRead = "conversation_read"
)

// HelloData authenticates the connection. It must be the first frame unless
// the upgrade request carried a bearer token.
type HelloData struct {
	Token    string `json:"token,omitempty"`
	Protocol int    `json:"protocol,omitempty"`
}

// JoinData subscribes the connection to the user's own channel.
type JoinData struct {
	UserID int64 `json:"user_id"`
}

// NewMessageData announces a message the client already persisted through
// the HTTP API. A full Message object is accepted; only ID is used.
type NewMessageData struct {
	ID int64 `json:"id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is the wire form of a direct message, shared by the HTTP API and
// the receive_message event.
//
// CreatedAt is truncated to milliseconds, so messages stored within the same
// millisecond compare equal on the wire. Ids increase in creation order and
// break the tie.
type Message struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"created_at"` // unix milliseconds
	Read       bool   `json:"is_read"`
}

// EventReadyData confirms authentication.
type EventReadyData struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Protocol int    `json:"protocol"`
}

// EventJoinedData acknowledges a join.
type EventJoinedData struct {
	UserID int64 `json:"user_id"`
}

// EventReadData is a read receipt delivered to the sender. MessageID is
// omitted for conversation_read.
type EventReadData struct {
	MessageID int64 `json:"message_id,omitempty"`
	ReaderID  int64 `json:"reader_id"`
	Count     int64 `json:"count"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
