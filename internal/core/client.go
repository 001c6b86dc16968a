package core

import (
	"strconv"

	"github.com/google/uuid"
)

// Client is one live connection as seen by the core layer.
// A client belongs to at most one channel at a time.
type Client struct {
	ID       string
	UserID   int64
	Name     string
	Commands chan *Command
	Events   chan *Event

	// channel and gone are owned by the hub goroutine.
	channel string
	gone    chan struct{}
}

// NewClient constructs a client for an authenticated user with initialized channels.
func NewClient(userID int64, name string) *Client {
	if name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, 8),
		Events:   make(chan *Event, 32),
		gone:     make(chan struct{}),
	}
}

// deliver enqueues an event without blocking. Returns false for a slow consumer.
func (c *Client) deliver(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// ChannelName is the routing target for a user identity.
func ChannelName(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
