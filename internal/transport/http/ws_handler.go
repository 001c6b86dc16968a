package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/messaging"
	"github.com/vovakirdan/wiredm/internal/proto"
)

var errHandshake = errors.New("handshake failed")

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub         *core.Hub
	svc         *messaging.Service
	authService *auth.Service
	cfg         *config.Config
	log         *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(
	hub *core.Hub,
	svc *messaging.Service,
	authService *auth.Service,
	cfg *config.Config,
	logger *zerolog.Logger,
) http.Handler {
	return &WSHandler{hub: hub, svc: svc, authService: authService, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	claims, err := h.authenticate(ctx, conn, r.Header.Get("Authorization"))
	if err != nil {
		h.log.Debug().Err(err).Msg("ws handshake rejected")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}
	if err := h.writeReady(ctx, conn, claims); err != nil {
		return
	}

	client := core.NewClient(claims.UserID, claims.Username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	h.log.Debug().Str("client_id", client.ID).Int64("user_id", client.UserID).Msg("ws connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client, claims)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

// authenticate resolves the connection's user from the upgrade header or,
// failing that, from a hello frame that must arrive first.
func (h *WSHandler) authenticate(ctx context.Context, conn *websocket.Conn, header string) (*auth.Claims, error) {
	if token, ok := bearerToken(header); ok {
		claims, err := h.authService.ValidateToken(token)
		if err != nil {
			_ = h.writeError(ctx, conn, core.ErrCodeUnauthorized, "invalid token")
			return nil, errors.Join(errHandshake, err)
		}
		return claims, nil
	}

	var inbound proto.Inbound
	if err := wsjson.Read(ctx, conn, &inbound); err != nil {
		return nil, errors.Join(errHandshake, err)
	}
	if inbound.Type != proto.InboundTypeHello {
		_ = h.writeError(ctx, conn, core.ErrCodeUnauthorized, "hello required")
		return nil, errHandshake
	}

	var hello proto.HelloData
	if err := decodeData(inbound.Data, &hello); err != nil {
		_ = h.writeError(ctx, conn, core.ErrCodeBadRequest, "invalid hello")
		return nil, errors.Join(errHandshake, err)
	}
	if !supportedProtocol(hello.Protocol) {
		_ = h.writeError(ctx, conn, core.ErrCodeUnsupportedVersion, "unsupported protocol version")
		return nil, errHandshake
	}
	claims, err := h.authService.ValidateToken(hello.Token)
	if err != nil {
		_ = h.writeError(ctx, conn, core.ErrCodeUnauthorized, "invalid token")
		return nil, errors.Join(errHandshake, err)
	}
	return claims, nil
}

func supportedProtocol(v int) bool {
	return v == 0 || v == proto.ProtocolVersion
}

func (h *WSHandler) writeReady(ctx context.Context, conn *websocket.Conn, claims *auth.Claims) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeEvent,
		Event: proto.EventReady,
		Data: proto.EventReadyData{
			UserID:   claims.UserID,
			Username: claims.Username,
			Protocol: proto.ProtocolVersion,
		},
	})
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) error {
	return wsjson.Write(ctx, conn, proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	})
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client, claims *auth.Claims) error {
	limiter := newRateLimiter(h.cfg.MessagesPerMinute)
	limiter.startReset(ctx.Done())

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			return err
		}

		if !limiter.allow() {
			if err := h.writeError(ctx, conn, core.ErrCodeRateLimited, "too many messages"); err != nil {
				return err
			}
			continue
		}

		if inbound.Type == proto.InboundTypeHello {
			var hello proto.HelloData
			if err := decodeData(inbound.Data, &hello); err != nil || !supportedProtocol(hello.Protocol) {
				if err := h.writeError(ctx, conn, core.ErrCodeUnsupportedVersion, "unsupported protocol version"); err != nil {
					return err
				}
				continue
			}
			if err := h.writeReady(ctx, conn, claims); err != nil {
				return err
			}
			continue
		}

		action, protoErr := inboundToAction(client, inbound)
		if protoErr != nil {
			if err := h.writeError(ctx, conn, protoErr.Code, protoErr.Msg); err != nil {
				return err
			}
			continue
		}

		switch {
		case action.Command != nil:
			select {
			case client.Commands <- action.Command:
			case <-ctx.Done():
				return ctx.Err()
			}
		case action.RelayID != 0:
			if err := h.relay(ctx, conn, client, action.RelayID); err != nil {
				return err
			}
		}
	}
}

// relay re-publishes a persisted message to its receiver. Failures are
// reported to the client and never close the connection.
func (h *WSHandler) relay(ctx context.Context, conn *websocket.Conn, client *core.Client, messageID int64) error {
	state, err := h.svc.Relay(ctx, client.UserID, messageID)
	if err == nil {
		h.log.Debug().
			Int64("message_id", messageID).
			Str("state", state.String()).
			Msg("relayed message")
		return nil
	}

	switch {
	case errors.Is(err, messaging.ErrNotFound):
		return h.writeError(ctx, conn, core.ErrCodeNotFound, "message not found")
	case errors.Is(err, messaging.ErrValidation):
		return h.writeError(ctx, conn, core.ErrCodeBadRequest, "message id is required")
	default:
		h.log.Error().Err(err).Int64("message_id", messageID).Msg("relay message")
		return h.writeError(ctx, conn, core.ErrCodeInternal, "internal error")
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				return nil
			}
			if err := wsjson.Write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
