package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/vovakirdan/wiredm/internal/store"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB

	// clock hands out strictly increasing creation timestamps (unix nanoseconds).
	// clockMu is held across the insert so id order matches timestamp order.
	clockMu sync.Mutex
	last    int64
}

// New creates a new SQLite store and applies pending migrations.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema to an in-memory database.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.resumeClock(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the embedded goose migrations to db.
func Migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("goose provider: %w", err)
	}
	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) resumeClock(ctx context.Context) error {
	var last int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(created_at), 0) FROM messages`).Scan(&last)
	if err != nil {
		return fmt.Errorf("resume clock: %w", err)
	}
	s.last = last
	return nil
}

// nextTimestamp must be called with clockMu held.
func (s *SQLiteStore) nextTimestamp() int64 {
	now := time.Now().UnixNano()
	if now <= s.last {
		now = s.last + 1
	}
	s.last = now
	return now
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, name, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, name, password_hash)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, name, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, store.ErrUserExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

const userColumns = `id, username, name, image, password_hash, created_at`

func scanUser(row interface{ Scan(...any) error }) (*store.User, error) {
	var user store.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.Image,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// ListUsersExcept lists every user other than userID, ordered by display name.
func (s *SQLiteStore) ListUsersExcept(ctx context.Context, userID int64) ([]*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id != ? ORDER BY name ASC, id ASC`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]*store.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// ==== MessageStore implementation ====

const messageColumns = `id, sender_id, receiver_id, content, created_at, is_read`

func scanMessage(row interface{ Scan(...any) error }) (*store.Message, error) {
	var (
		msg       store.Message
		createdAt int64
	)
	if err := row.Scan(&msg.ID, &msg.SenderID, &msg.ReceiverID, &msg.Content, &createdAt, &msg.Read); err != nil {
		return nil, err
	}
	msg.CreatedAt = time.Unix(0, createdAt).UTC()
	return &msg, nil
}

func (s *SQLiteStore) queryMessages(ctx context.Context, query string, args ...any) ([]*store.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// CreateMessage persists a new unread message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, senderID, receiverID int64, content string) (*store.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, store.ErrInvalidMessage
	}
	if _, err := s.GetUserByID(ctx, receiverID); err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}

	s.clockMu.Lock()
	createdAt := s.nextTimestamp()
	query := `
		INSERT INTO messages (sender_id, receiver_id, content, created_at, is_read)
		VALUES (?, ?, ?, ?, 0)
	`
	result, err := s.db.ExecContext(ctx, query, senderID, receiverID, content, createdAt)
	s.clockMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return &store.Message{
		ID:         id,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Unix(0, createdAt).UTC(),
	}, nil
}

// GetMessage retrieves a message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("message %d: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return msg, nil
}

// ListConversation returns messages exchanged between a and b, oldest first.
func (s *SQLiteStore) ListConversation(ctx context.Context, a, b int64) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?)
		   OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC
	`
	return s.queryMessages(ctx, query, a, b, b, a)
}

func (s *SQLiteStore) markRead(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	changed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return changed, nil
}

// MarkRead flags a single message addressed to receiverID as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, messageID, receiverID int64) (int64, error) {
	query := `
		UPDATE messages SET is_read = 1
		WHERE id = ? AND receiver_id = ? AND is_read = 0
	`
	return s.markRead(ctx, query, messageID, receiverID)
}

// MarkAllReadFrom flags every unread message from senderID to receiverID as read.
func (s *SQLiteStore) MarkAllReadFrom(ctx context.Context, senderID, receiverID int64) (int64, error) {
	query := `
		UPDATE messages SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
	`
	return s.markRead(ctx, query, senderID, receiverID)
}

// MarkAllRead flags every unread message addressed to receiverID as read.
func (s *SQLiteStore) MarkAllRead(ctx context.Context, receiverID int64) (int64, error) {
	query := `
		UPDATE messages SET is_read = 1
		WHERE receiver_id = ? AND is_read = 0
	`
	return s.markRead(ctx, query, receiverID)
}

// UnreadCountsBySender groups unread messages for receiverID by sender.
func (s *SQLiteStore) UnreadCountsBySender(ctx context.Context, receiverID int64) (map[int64]int, error) {
	query := `
		SELECT sender_id, COUNT(*)
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		GROUP BY sender_id
	`
	rows, err := s.db.QueryContext(ctx, query, receiverID)
	if err != nil {
		return nil, fmt.Errorf("query unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var senderID int64
		var count int
		if err := rows.Scan(&senderID, &count); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		if count > 0 {
			counts[senderID] = count
		}
	}

	return counts, rows.Err()
}

// CountUnread returns the total number of unread messages for receiverID.
func (s *SQLiteStore) CountUnread(ctx context.Context, receiverID int64) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM messages WHERE receiver_id = ? AND is_read = 0`
	if err := s.db.QueryRowContext(ctx, query, receiverID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// ListUnread returns unread messages for receiverID, newest first.
func (s *SQLiteStore) ListUnread(ctx context.Context, receiverID int64) ([]*store.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE receiver_id = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC
	`
	return s.queryMessages(ctx, query, receiverID)
}
