package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/vovakirdan/wiredm/internal/messaging"
	"github.com/vovakirdan/wiredm/internal/proto"
)

func TestWebSocketDeliveryAndDisconnect(t *testing.T) {
	env := newTestEnv(t)
	x := env.register(t, "xavier")
	y := env.register(t, "yvonne")

	yConn := env.connect(t, y)

	resp := env.do(t, http.MethodPost, "/api/messages", x.Token, SendMessageRequest{ReceiverID: y.ID, Content: "are you there?"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", resp.Code, resp.Body.String())
	}
	if d := decodeBody[SendMessageResponse](t, resp).Delivery; d != messaging.StateDelivered.String() {
		t.Fatalf("expected delivered, got %q", d)
	}

	out := env.expectEvent(t, yConn, proto.EventReceiveMessage)
	var msg proto.Message
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Content != "are you there?" || msg.SenderID != x.ID || msg.ReceiverID != y.ID {
		t.Fatalf("unexpected pushed message: %+v", msg)
	}

	// After disconnect the next send is stored but pending.
	_ = yConn.CloseNow()
	env.waitOffline(t, y.ID)

	resp = env.do(t, http.MethodPost, "/api/messages", x.Token, SendMessageRequest{ReceiverID: y.ID, Content: "gone?"})
	if d := decodeBody[SendMessageResponse](t, resp).Delivery; d != messaging.StatePending.String() {
		t.Fatalf("expected pending, got %q", d)
	}

	resp = env.do(t, http.MethodGet, "/api/messages/unread-count", y.Token, nil)
	if summary := decodeBody[map[string]int](t, resp); summary[fmt.Sprint(x.ID)] != 2 {
		t.Fatalf("expected 2 unread from x, got %v", summary)
	}
}

func TestWebSocketReadReceipt(t *testing.T) {
	env := newTestEnv(t)
	x := env.register(t, "xavier")
	y := env.register(t, "yvonne")

	xConn := env.connect(t, x)

	resp := env.do(t, http.MethodPost, "/api/messages", x.Token, SendMessageRequest{ReceiverID: y.ID, Content: "ping"})
	sent := decodeBody[SendMessageResponse](t, resp)

	env.do(t, http.MethodPut, "/api/messages", y.Token, MarkReadRequest{MessageID: sent.ID})

	out := env.expectEvent(t, xConn, proto.EventMessageRead)
	var receipt proto.EventReadData
	if err := json.Unmarshal(out.Data, &receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.MessageID != sent.ID || receipt.ReaderID != y.ID {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}

	env.do(t, http.MethodPost, "/api/messages", x.Token, SendMessageRequest{ReceiverID: y.ID, Content: "pong?"})
	env.do(t, http.MethodPut, fmt.Sprintf("/api/messages/mark-read?with=%d", x.ID), y.Token, nil)
	env.expectEvent(t, xConn, proto.EventConversationRead)
}

func TestWebSocketRelay(t *testing.T) {
	env := newTestEnv(t)
	x := env.register(t, "xavier")
	y := env.register(t, "yvonne")
	z := env.register(t, "zed")

	resp := env.do(t, http.MethodPost, "/api/messages", x.Token, SendMessageRequest{ReceiverID: y.ID, Content: "catch up"})
	sent := decodeBody[SendMessageResponse](t, resp)

	yConn := env.connect(t, y)
	xConn := env.connect(t, x)

	env.send(t, xConn, proto.InboundTypeNewMessage, proto.NewMessageData{ID: sent.ID})
	out := env.expectEvent(t, yConn, proto.EventReceiveMessage)
	var msg proto.Message
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.ID != sent.ID {
		t.Fatalf("expected relayed message %d, got %+v", sent.ID, msg)
	}

	// Only the sender may relay a message.
	zConn := env.connect(t, z)
	env.send(t, zConn, proto.InboundTypeNewMessage, proto.NewMessageData{ID: sent.ID})
	env.expectError(t, zConn, "not_found")

	env.send(t, xConn, proto.InboundTypeNewMessage, map[string]any{})
	env.expectError(t, xConn, "bad_request")
}

func TestWebSocketHandshake(t *testing.T) {
	env := newTestEnv(t)
	x := env.register(t, "xavier")

	t.Run("invalid token", func(t *testing.T) {
		conn := env.dial(t, nil)
		env.send(t, conn, proto.InboundTypeHello, proto.HelloData{Token: "invalid"})
		env.expectError(t, conn, "unauthorized")
	})

	t.Run("frame before hello", func(t *testing.T) {
		conn := env.dial(t, nil)
		env.send(t, conn, proto.InboundTypeJoin, proto.JoinData{UserID: x.ID})
		env.expectError(t, conn, "unauthorized")
	})

	t.Run("protocol mismatch", func(t *testing.T) {
		conn := env.dial(t, nil)
		env.send(t, conn, proto.InboundTypeHello, proto.HelloData{Token: x.Token, Protocol: proto.ProtocolVersion + 1})
		env.expectError(t, conn, "unsupported_version")
	})

	t.Run("bearer header", func(t *testing.T) {
		conn := env.dial(t, http.Header{"Authorization": []string{"Bearer " + x.Token}})
		out := env.expectEvent(t, conn, proto.EventReady)
		var ready proto.EventReadyData
		if err := json.Unmarshal(out.Data, &ready); err != nil {
			t.Fatalf("decode ready: %v", err)
		}
		if ready.UserID != x.ID || ready.Protocol != proto.ProtocolVersion {
			t.Fatalf("unexpected ready payload: %+v", ready)
		}
	})
}

func TestWebSocketJoinOtherChannelRejected(t *testing.T) {
	env := newTestEnv(t)
	x := env.register(t, "xavier")
	y := env.register(t, "yvonne")

	conn := env.dial(t, nil)
	env.send(t, conn, proto.InboundTypeHello, proto.HelloData{Token: x.Token})
	env.expectEvent(t, conn, proto.EventReady)

	env.send(t, conn, proto.InboundTypeJoin, proto.JoinData{UserID: y.ID})
	env.expectError(t, conn, "unauthorized")

	// Rejoining the own channel twice is fine.
	env.send(t, conn, proto.InboundTypeJoin, proto.JoinData{UserID: x.ID})
	env.expectEvent(t, conn, proto.EventJoined)
	env.send(t, conn, proto.InboundTypeJoin, proto.JoinData{UserID: x.ID})
	env.expectEvent(t, conn, proto.EventJoined)

	env.send(t, conn, "bogus", nil)
	env.expectError(t, conn, "invalid_message")
}

func TestWebSocketRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MessagesPerMinute = 2
	env := newTestEnvWithConfig(t, cfg)
	x := env.register(t, "xavier")

	conn := env.dial(t, http.Header{"Authorization": []string{"Bearer " + x.Token}})
	env.expectEvent(t, conn, proto.EventReady)

	for i := 0; i < 2; i++ {
		env.send(t, conn, proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion})
		env.expectEvent(t, conn, proto.EventReady)
	}
	env.send(t, conn, proto.InboundTypeHello, proto.HelloData{Protocol: proto.ProtocolVersion})
	env.expectError(t, conn, "rate_limited")
}
