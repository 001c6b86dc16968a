package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/store"
)

// Store is the persistence the delivery protocol needs.
type Store interface {
	store.UserStore
	store.MessageStore
}

// Delivery is the outcome of a send: the persisted message and whether
// anyone was listening for it.
type Delivery struct {
	Message *store.Message
	State   State
}

// Service implements sending, relaying and acknowledging direct messages.
// Persistence is the durability boundary: nothing is published unless the
// store write succeeded, and a publish that reaches nobody is not an error.
type Service struct {
	store Store
	pub   Publisher
	log   *zerolog.Logger
}

// NewService creates a delivery service. A nil logger disables logging.
func NewService(st Store, pub Publisher, logger *zerolog.Logger) *Service {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Service{store: st, pub: pub, log: logger}
}

// Peers lists every addressable user except userID.
func (s *Service) Peers(ctx context.Context, userID int64) ([]*store.User, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	users, err := s.store.ListUsersExcept(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	return users, nil
}

// Conversation returns the messages exchanged between userID and peerID, oldest first.
func (s *Service) Conversation(ctx context.Context, userID, peerID int64) ([]*store.Message, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	if peerID == 0 {
		return nil, fmt.Errorf("peer id is required: %w", ErrValidation)
	}
	msgs, err := s.store.ListConversation(ctx, userID, peerID)
	if err != nil {
		return nil, fmt.Errorf("list conversation: %w", err)
	}
	return msgs, nil
}

// Send persists a message and then pushes it to the receiver's channel.
// The returned state is StateDelivered when a live connection took the push
// and StatePending otherwise.
func (s *Service) Send(ctx context.Context, senderID, receiverID int64, content string) (*Delivery, error) {
	if senderID == 0 {
		return nil, ErrUnauthenticated
	}
	// A user may message themselves; the push then lands on their own channel.
	if receiverID == 0 {
		return nil, fmt.Errorf("receiver id is required: %w", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("content is empty: %w", ErrValidation)
	}

	msg, err := s.store.CreateMessage(ctx, senderID, receiverID, content)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidMessage):
			return nil, fmt.Errorf("content is empty: %w", ErrValidation)
		case errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("receiver %d: %w", receiverID, ErrNotFound)
		}
		return nil, fmt.Errorf("persist message: %w", err)
	}

	return &Delivery{Message: msg, State: s.push(ctx, msg)}, nil
}

// Relay re-publishes an already persisted message on behalf of its sender.
// It is the path taken when a client announces a message over the realtime
// connection after sending it through the API. Messages that were read
// already are not pushed again.
func (s *Service) Relay(ctx context.Context, userID, messageID int64) (State, error) {
	if userID == 0 {
		return StateComposed, ErrUnauthenticated
	}
	if messageID == 0 {
		return StateComposed, fmt.Errorf("message id is required: %w", ErrValidation)
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return StateComposed, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
		}
		return StateComposed, fmt.Errorf("load message: %w", err)
	}
	if msg.SenderID != userID {
		return StateComposed, fmt.Errorf("message %d: %w", messageID, ErrNotFound)
	}
	if msg.Read {
		return StateRead, nil
	}
	return s.push(ctx, msg), nil
}

func (s *Service) push(ctx context.Context, msg *store.Message) State {
	n := s.pub.Publish(ctx, core.ChannelName(msg.ReceiverID), &core.Event{
		Kind:    core.EventReceiveMessage,
		Message: toCoreMessage(msg),
	})
	if n == 0 {
		s.log.Debug().
			Int64("message_id", msg.ID).
			Int64("receiver_id", msg.ReceiverID).
			Msg("receiver offline, message pending")
		return StatePending
	}
	return StateDelivered
}

// MarkRead acknowledges a single message addressed to userID. Unknown or
// already read ids succeed without effect. When the message changed state
// the sender receives a read receipt.
func (s *Service) MarkRead(ctx context.Context, userID, messageID int64) error {
	if userID == 0 {
		return ErrUnauthenticated
	}
	if messageID == 0 {
		return fmt.Errorf("message id is required: %w", ErrValidation)
	}

	changed, err := s.store.MarkRead(ctx, messageID, userID)
	if err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	if changed == 0 {
		return nil
	}

	msg, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		// The acknowledgement is stored; the receipt is only a hint.
		s.log.Warn().Err(err).Int64("message_id", messageID).Msg("load message for read receipt")
		return nil
	}
	s.pub.Publish(ctx, core.ChannelName(msg.SenderID), &core.Event{
		Kind:    core.EventMessageRead,
		Receipt: &core.ReadReceipt{MessageID: messageID, ReaderID: userID, Count: changed},
	})
	return nil
}

// MarkAllReadFrom acknowledges every unread message senderID sent to userID.
func (s *Service) MarkAllReadFrom(ctx context.Context, userID, senderID int64) (int64, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	if senderID == 0 {
		return 0, fmt.Errorf("sender id is required: %w", ErrValidation)
	}

	changed, err := s.store.MarkAllReadFrom(ctx, senderID, userID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	if changed > 0 {
		s.pub.Publish(ctx, core.ChannelName(senderID), &core.Event{
			Kind:    core.EventConversationRead,
			Receipt: &core.ReadReceipt{ReaderID: userID, Count: changed},
		})
	}
	return changed, nil
}

// MarkAllRead acknowledges every unread message addressed to userID.
// Senders get no receipt for this bulk operation; their next conversation
// fetch shows the read flags.
func (s *Service) MarkAllRead(ctx context.Context, userID int64) (int64, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	changed, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return changed, nil
}

// UnreadSummary returns unread counts for userID keyed by sender.
func (s *Service) UnreadSummary(ctx context.Context, userID int64) (map[int64]int, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	counts, err := s.store.UnreadCountsBySender(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unread summary: %w", err)
	}
	return counts, nil
}

// UnreadTotal returns the number of unread messages addressed to userID.
func (s *Service) UnreadTotal(ctx context.Context, userID int64) (int, error) {
	if userID == 0 {
		return 0, ErrUnauthenticated
	}
	n, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("unread total: %w", err)
	}
	return n, nil
}

// ListUnread returns unread messages addressed to userID, newest first.
func (s *Service) ListUnread(ctx context.Context, userID int64) ([]*store.Message, error) {
	if userID == 0 {
		return nil, ErrUnauthenticated
	}
	msgs, err := s.store.ListUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list unread: %w", err)
	}
	return msgs, nil
}

func toCoreMessage(m *store.Message) *core.Message {
	return &core.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		Read:       m.Read,
	}
}
