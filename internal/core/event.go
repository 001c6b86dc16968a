package core

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventJoined acknowledges a join to the joining connection.
	EventJoined EventKind = iota
	// EventLeft acknowledges an explicit leave.
	EventLeft
	// EventReceiveMessage delivers a new message to the receiver's channel.
	EventReceiveMessage
	// EventMessageRead tells a sender one of their messages was read.
	EventMessageRead
	// EventConversationRead tells a sender the receiver read everything from them.
	EventConversationRead
	// EventError notifies clients about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Channel string
	Message *Message
	Receipt *ReadReceipt
	Error   *CoreError
}
