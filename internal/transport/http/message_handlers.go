package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/messaging"
	"github.com/vovakirdan/wiredm/internal/proto"
)

// MessageHandlers provides HTTP handlers for direct messages.
type MessageHandlers struct {
	svc *messaging.Service
	log *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(svc *messaging.Service, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{svc: svc, log: logger}
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Content    string `json:"content"`
}

// MarkReadRequest is the body of PUT /api/messages.
type MarkReadRequest struct {
	MessageID int64 `json:"message_id"`
}

// SendMessageResponse is a persisted message plus its delivery state.
type SendMessageResponse struct {
	proto.Message
	Delivery string `json:"delivery"`
}

// MarkedResponse reports how many messages changed state.
type MarkedResponse struct {
	Updated int64 `json:"updated"`
}

// UnreadTotalResponse is the body of GET /api/messages/new-messages-count.
type UnreadTotalResponse struct {
	UnreadMessagesCount int `json:"unread_messages_count"`
}

// Conversation returns the conversation with the peer given by ?with=.
// GET /api/messages?with=ID
func (h *MessageHandlers) Conversation(c *gin.Context) {
	peerID, ok := queryID(c, "with")
	if !ok {
		return
	}

	msgs, err := h.svc.Conversation(c.Request.Context(), currentUserID(c), peerID)
	if err != nil {
		writeServiceError(c, h.log, err, "failed to load conversation")
		return
	}
	c.JSON(http.StatusOK, toProtoMessages(msgs))
}

// Send persists a message and pushes it to the receiver.
// POST /api/messages
func (h *MessageHandlers) Send(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid send request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	d, err := h.svc.Send(c.Request.Context(), currentUserID(c), req.ReceiverID, req.Content)
	if err != nil {
		writeServiceError(c, h.log, err, "failed to send message")
		return
	}
	c.JSON(http.StatusCreated, SendMessageResponse{
		Message:  toProtoMessage(d.Message),
		Delivery: d.State.String(),
	})
}

// MarkRead acknowledges a single message.
// PUT /api/messages
func (h *MessageHandlers) MarkRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid mark read request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.MarkRead(c.Request.Context(), currentUserID(c), req.MessageID); err != nil {
		writeServiceError(c, h.log, err, "failed to mark message read")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// MarkConversationRead acknowledges everything the peer sent the caller.
// PUT /api/messages/mark-read?with=ID
func (h *MessageHandlers) MarkConversationRead(c *gin.Context) {
	senderID, ok := queryID(c, "with")
	if !ok {
		return
	}

	n, err := h.svc.MarkAllReadFrom(c.Request.Context(), currentUserID(c), senderID)
	if err != nil {
		writeServiceError(c, h.log, err, "failed to mark conversation read")
		return
	}
	c.JSON(http.StatusOK, MarkedResponse{Updated: n})
}

// UnreadSummary returns unread counts keyed by sender id.
// GET /api/messages/unread-count
func (h *MessageHandlers) UnreadSummary(c *gin.Context) {
	counts, err := h.svc.UnreadSummary(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeServiceError(c, h.log, err, "failed to load unread summary")
		return
	}
	c.JSON(http.StatusOK, toUnreadSummary(counts))
}

// UnreadTotal returns the total number of unread messages.
// GET /api/messages/new-messages-count
func (h *MessageHandlers) UnreadTotal(c *gin.Context) {
	n, err := h.svc.UnreadTotal(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeServiceError(c, h.log, err, "failed to count unread messages")
		return
	}
	c.JSON(http.StatusOK, UnreadTotalResponse{UnreadMessagesCount: n})
}

// ListUnread returns unread messages, newest first.
// GET /api/messages/unread
func (h *MessageHandlers) ListUnread(c *gin.Context) {
	msgs, err := h.svc.ListUnread(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeServiceError(c, h.log, err, "failed to list unread messages")
		return
	}
	c.JSON(http.StatusOK, toProtoMessages(msgs))
}

// MarkAllRead acknowledges every unread message addressed to the caller.
// PUT /api/messages/unread
func (h *MessageHandlers) MarkAllRead(c *gin.Context) {
	n, err := h.svc.MarkAllRead(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeServiceError(c, h.log, err, "failed to mark all read")
		return
	}
	c.JSON(http.StatusOK, MarkedResponse{Updated: n})
}

func queryID(c *gin.Context, key string) (int64, bool) {
	raw := c.Query(key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if raw == "" || err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: key + " must be a user id"})
		return 0, false
	}
	return id, true
}

func writeServiceError(c *gin.Context, logger *zerolog.Logger, err error, msg string) {
	switch {
	case errors.Is(err, messaging.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	case errors.Is(err, messaging.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	default:
		logger.Error().Err(err).Int64("user_id", currentUserID(c)).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
