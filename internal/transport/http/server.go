package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/messaging"
)

// NewServer builds the HTTP server with the REST API and the WebSocket endpoint.
func NewServer(
	hub *core.Hub,
	svc *messaging.Service,
	authService *auth.Service,
	cfg *config.Config,
	logger *zerolog.Logger,
) *http.Server {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), LoggerMiddleware(logger))

	r.GET("/health", healthHandler)
	r.GET("/ws", gin.WrapH(NewWSHandler(hub, svc, authService, cfg, logger)))

	apiHandlers := NewAPIHandlers(authService, logger)
	userHandlers := NewUserHandlers(svc, logger)
	messageHandlers := NewMessageHandlers(svc, logger)

	api := r.Group("/api")
	api.POST("/register", apiHandlers.Register)
	api.POST("/login", apiHandlers.Login)

	protected := api.Group("")
	protected.Use(AuthMiddleware(authService, logger))
	protected.GET("/users", userHandlers.ListPeers)

	messages := protected.Group("/messages")
	messages.GET("", messageHandlers.Conversation)
	messages.POST("", messageHandlers.Send)
	messages.PUT("", messageHandlers.MarkRead)
	messages.PUT("/mark-read", messageHandlers.MarkConversationRead)
	messages.GET("/unread-count", messageHandlers.UnreadSummary)
	messages.GET("/new-messages-count", messageHandlers.UnreadTotal)
	messages.GET("/unread", messageHandlers.ListUnread)
	messages.PUT("/unread", messageHandlers.MarkAllRead)

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}
