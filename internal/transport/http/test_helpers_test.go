package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/messaging"
	"github.com/vovakirdan/wiredm/internal/proto"
	"github.com/vovakirdan/wiredm/internal/store"
	"github.com/vovakirdan/wiredm/internal/store/sqlite"
)

const testSecret = "test-secret"

type testEnv struct {
	server *http.Server
	ts     *httptest.Server
	hub    *core.Hub
	store  store.Store
	auth   *auth.Service
	ctx    context.Context
}

type testUser struct {
	ID    int64
	Token string
}

// wireOutbound mirrors proto.Outbound with undecoded data.
type wireOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	cfg.JWTSecret = testSecret
	cfg.JWTIssuer = "test"
	cfg.JWTAudience = "test"
	return cfg
}

// createTestStore creates an in-memory SQLite store with migrations applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, cfg config.Config) *auth.Service {
	t.Helper()

	return auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
}

func newTestEnvWithConfig(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	disabledLogger := zerolog.New(nil)
	st := createTestStore(t)
	authService := createTestAuthService(t, st, cfg)

	hub := core.NewHub(&disabledLogger)
	go hub.Run(ctx)

	svc := messaging.NewService(st, hub, &disabledLogger)
	server := NewServer(hub, svc, authService, &cfg, &disabledLogger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{server: server, ts: ts, hub: hub, store: st, auth: authService, ctx: ctx}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, testConfig())
}

func (e *testEnv) register(t *testing.T, username string) testUser {
	t.Helper()

	token, err := e.auth.Register(e.ctx, username, "", "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	u, err := e.store.GetUserByUsername(e.ctx, username)
	if err != nil {
		t.Fatalf("lookup %s: %v", username, err)
	}
	return testUser{ID: u.ID, Token: token}
}

// do runs a request against the handler and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(resp.Body.Bytes(), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", resp.Body.String(), err)
	}
	return v
}

func (e *testEnv) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(e.ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func (e *testEnv) send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(e.ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

func (e *testEnv) read(t *testing.T, conn *websocket.Conn) wireOutbound {
	t.Helper()

	var out wireOutbound
	if err := wsjson.Read(e.ctx, conn, &out); err != nil {
		t.Fatalf("read outbound: %v", err)
	}
	return out
}

func (e *testEnv) expectEvent(t *testing.T, conn *websocket.Conn, event string) wireOutbound {
	t.Helper()

	out := e.read(t, conn)
	if out.Type != proto.OutboundTypeEvent || out.Event != event {
		t.Fatalf("expected event %q, got %+v", event, out)
	}
	return out
}

func (e *testEnv) expectError(t *testing.T, conn *websocket.Conn, code string) {
	t.Helper()

	out := e.read(t, conn)
	if out.Type != proto.OutboundTypeError || out.Error == nil || out.Error.Code != code {
		t.Fatalf("expected %s error, got %+v", code, out)
	}
}

// connect performs hello and join for u and waits for both acknowledgements.
func (e *testEnv) connect(t *testing.T, u testUser) *websocket.Conn {
	t.Helper()

	conn := e.dial(t, nil)
	e.send(t, conn, proto.InboundTypeHello, proto.HelloData{Token: u.Token, Protocol: proto.ProtocolVersion})
	e.expectEvent(t, conn, proto.EventReady)
	e.send(t, conn, proto.InboundTypeJoin, proto.JoinData{UserID: u.ID})
	e.expectEvent(t, conn, proto.EventJoined)
	return conn
}

func (e *testEnv) waitOffline(t *testing.T, userID int64) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !e.hub.Online(e.ctx, core.ChannelName(userID)) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("user %d still online", userID)
}
