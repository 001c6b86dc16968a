package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/proto"
)

// EventKind identifies a realtime notification.
type EventKind int

const (
	// EventIncoming carries a message addressed to the session owner.
	EventIncoming EventKind = iota
	// EventMessageRead reports that a peer read one of our messages.
	EventMessageRead
	// EventConversationRead reports that a peer read everything we sent them.
	EventConversationRead
)

// Receipt is a read acknowledgement from a peer.
type Receipt struct {
	MessageID int64
	ReaderID  int64
}

// Event is a realtime notification delivered to the controller.
type Event struct {
	Kind    EventKind
	Message *Message
	Receipt *Receipt
}

// Realtime is an authenticated WebSocket joined to the user's channel.
type Realtime struct {
	conn   *websocket.Conn
	events chan Event
	cancel context.CancelFunc
	log    *zerolog.Logger
}

type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// DialRealtime connects to baseURL's WebSocket endpoint, authenticates with
// token and joins userID's channel. A nil logger disables logging.
func DialRealtime(ctx context.Context, baseURL, token string, userID int64, logger *zerolog.Logger) (*Realtime, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	wsURL := strings.Replace(strings.TrimRight(baseURL, "/"), "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", wsURL, err)
	}

	if err := expect(ctx, conn, proto.EventReady); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return nil, err
	}
	if err := send(ctx, conn, proto.InboundTypeJoin, proto.JoinData{UserID: userID}); err != nil {
		conn.CloseNow()
		return nil, err
	}
	if err := expect(ctx, conn, proto.EventJoined); err != nil {
		conn.Close(websocket.StatusPolicyViolation, "join failed")
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	rt := &Realtime{
		conn:   conn,
		events: make(chan Event, 32),
		cancel: cancel,
		log:    logger,
	}
	go rt.readLoop(loopCtx)
	return rt, nil
}

// Events is closed when the connection drops.
func (r *Realtime) Events() <-chan Event {
	return r.events
}

// Notify asks the server to push an already sent message to its receiver again.
func (r *Realtime) Notify(ctx context.Context, messageID int64) error {
	return send(ctx, r.conn, proto.InboundTypeNewMessage, proto.NewMessageData{ID: messageID})
}

// Close leaves the channel and closes the connection.
func (r *Realtime) Close() error {
	r.cancel()
	return r.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (r *Realtime) readLoop(ctx context.Context) {
	defer close(r.events)

	for {
		var out wireOutbound
		if err := wsjson.Read(ctx, r.conn, &out); err != nil {
			if !errors.Is(err, context.Canceled) && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				r.log.Warn().Err(err).Msg("realtime connection lost")
			}
			return
		}

		ev, ok := r.decode(out)
		if !ok {
			continue
		}
		select {
		case r.events <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Realtime) decode(out wireOutbound) (Event, bool) {
	if out.Type == proto.OutboundTypeError {
		if out.Error != nil {
			r.log.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("realtime error")
		}
		return Event{}, false
	}

	switch out.Event {
	case proto.EventReceiveMessage:
		var m proto.Message
		if err := json.Unmarshal(out.Data, &m); err != nil {
			r.log.Warn().Err(err).Msg("decode receive_message")
			return Event{}, false
		}
		msg := fromWire(m)
		return Event{Kind: EventIncoming, Message: &msg}, true
	case proto.EventMessageRead, proto.EventConversationRead:
		var d proto.EventReadData
		if err := json.Unmarshal(out.Data, &d); err != nil {
			r.log.Warn().Err(err).Msg("decode read receipt")
			return Event{}, false
		}
		kind := EventMessageRead
		if out.Event == proto.EventConversationRead {
			kind = EventConversationRead
		}
		return Event{Kind: kind, Receipt: &Receipt{MessageID: d.MessageID, ReaderID: d.ReaderID}}, true
	default:
		return Event{}, false
	}
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func expect(ctx context.Context, conn *websocket.Conn, event string) error {
	var out wireOutbound
	if err := wsjson.Read(ctx, conn, &out); err != nil {
		return fmt.Errorf("await %s: %w", event, err)
	}
	if out.Type == proto.OutboundTypeError && out.Error != nil {
		return fmt.Errorf("await %s: %s: %s", event, out.Error.Code, out.Error.Msg)
	}
	if out.Event != event {
		return fmt.Errorf("await %s: got %q", event, out.Event)
	}
	return nil
}
