package core

import "time"

// Message is the push payload for a persisted direct message.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	CreatedAt  time.Time
	Read       bool
}

// ReadReceipt tells a sender that the receiver acknowledged messages.
// MessageID is zero for a bulk acknowledgement of the whole conversation.
type ReadReceipt struct {
	MessageID int64
	ReaderID  int64
	Count     int64
}
