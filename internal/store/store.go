package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a user or message id does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage is returned when message content is empty after trimming.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrUserExists is returned when a username is already taken.
	ErrUserExists = errors.New("user already exists")
)

// User represents an addressable account.
type User struct {
	ID           int64
	Username     string
	Name         string
	Image        string
	PasswordHash string
	CreatedAt    time.Time
}

// Message represents a persisted direct message.
// Everything except Read is immutable once created.
type Message struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Content    string
	CreatedAt  time.Time
	Read       bool
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, name, passwordHash string) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListUsersExcept lists every user other than userID.
	ListUsersExcept(ctx context.Context, userID int64) ([]*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// CreateMessage persists a new unread message with a store-assigned timestamp.
	CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*Message, error)

	// GetMessage retrieves a message by ID.
	GetMessage(ctx context.Context, id int64) (*Message, error)

	// ListConversation returns messages exchanged between a and b, oldest first.
	ListConversation(ctx context.Context, a, b int64) ([]*Message, error)

	// MarkRead flags a single message addressed to receiverID as read.
	// Returns the number of rows that changed; zero is not an error.
	MarkRead(ctx context.Context, messageID, receiverID int64) (int64, error)

	// MarkAllReadFrom flags every unread message from senderID to receiverID as read.
	MarkAllReadFrom(ctx context.Context, senderID, receiverID int64) (int64, error)

	// MarkAllRead flags every unread message addressed to receiverID as read.
	MarkAllRead(ctx context.Context, receiverID int64) (int64, error)

	// UnreadCountsBySender groups unread messages for receiverID by sender.
	// Only senders with at least one unread message appear.
	UnreadCountsBySender(ctx context.Context, receiverID int64) (map[int64]int, error)

	// CountUnread returns the total number of unread messages for receiverID.
	CountUnread(ctx context.Context, receiverID int64) (int, error)

	// ListUnread returns unread messages for receiverID, newest first.
	ListUnread(ctx context.Context, receiverID int64) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
