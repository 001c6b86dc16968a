package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/messaging"
)

// UserHandlers provides HTTP handlers for user operations.
type UserHandlers struct {
	svc *messaging.Service
	log *zerolog.Logger
}

// NewUserHandlers creates a new user handlers instance.
func NewUserHandlers(svc *messaging.Service, logger *zerolog.Logger) *UserHandlers {
	return &UserHandlers{
		svc: svc,
		log: logger,
	}
}

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
}

// ListPeers returns every user except the caller.
// GET /api/users
func (h *UserHandlers) ListPeers(c *gin.Context) {
	users, err := h.svc.Peers(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeServiceError(c, h.log, err, "failed to list peers")
		return
	}
	c.JSON(http.StatusOK, toUserResponses(users))
}
