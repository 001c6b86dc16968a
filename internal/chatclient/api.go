//go:generate go run go.uber.org/mock/mockgen -source=api.go -destination=mocks/mock_api.go -package=mocks
package chatclient

import (
	"context"
	"time"
)

// Peer is an addressable user other than the session owner.
type Peer struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
}

// Message is a direct message as seen by the client.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	CreatedAt  time.Time
	Read       bool
}

// API is the server surface the controller depends on.
type API interface {
	ListPeers(ctx context.Context) ([]Peer, error)
	UnreadSummary(ctx context.Context) (map[int64]int, error)
	FetchConversation(ctx context.Context, peerID int64) ([]Message, error)
	SendMessage(ctx context.Context, peerID int64, content string) (Message, error)
	MarkRead(ctx context.Context, messageID int64) error
	MarkConversationRead(ctx context.Context, peerID int64) error
}
