package chatclient_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/chatclient"
	"github.com/vovakirdan/wiredm/internal/config"
	"github.com/vovakirdan/wiredm/internal/core"
	"github.com/vovakirdan/wiredm/internal/messaging"
	"github.com/vovakirdan/wiredm/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wiredm/internal/transport/http"
)

func startServer(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := zerolog.Nop()
	cfg := config.Default()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	})
	hub := core.NewHub(&logger)
	go hub.Run(ctx)

	svc := messaging.NewService(st, hub, &logger)
	server := transporthttp.NewServer(hub, svc, authService, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	return ts.URL
}

func TestSessionEndToEnd(t *testing.T) {
	req := require.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	baseURL := startServer(t)

	xToken, err := chatclient.Register(ctx, baseURL, "xavier", "Xavier", "password123")
	req.NoError(err)
	_, err = chatclient.Register(ctx, baseURL, "yvonne", "", "password123")
	req.NoError(err)
	yToken, err := chatclient.Login(ctx, baseURL, "yvonne", "password123")
	req.NoError(err)

	xID, err := chatclient.SelfID(xToken)
	req.NoError(err)
	yID, err := chatclient.SelfID(yToken)
	req.NoError(err)

	xAPI := chatclient.NewHTTPClient(baseURL, xToken)
	yAPI := chatclient.NewHTTPClient(baseURL, yToken)
	x := chatclient.NewController(xAPI, xID)
	y := chatclient.NewController(yAPI, yID)

	peers, err := x.ListPeers(ctx)
	req.NoError(err)
	req.Len(peers, 1)
	req.Equal(yID, peers[0].ID)
	req.Equal("yvonne", peers[0].Name)

	// Y is offline: the message waits in the unread summary.
	req.NoError(x.OpenConversation(ctx, yID))
	_, err = x.SendMessage(ctx, yID, "hello")
	req.NoError(err)

	req.NoError(y.RefreshUnreadSummary(ctx))
	req.Equal(map[int64]int{xID: 1}, y.Snapshot().Badges)

	rt, err := chatclient.DialRealtime(ctx, baseURL, yToken, yID, nil)
	req.NoError(err)
	defer rt.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = y.Run(runCtx, rt.Events()) }()

	req.NoError(y.OpenConversation(ctx, xID))
	st := y.Snapshot()
	req.Len(st.Messages, 1)
	req.Empty(st.Badges)

	// X's view converges through the poll path.
	req.NoError(x.FetchMessages(ctx, yID))
	req.True(x.Snapshot().Messages[0].Read)

	// Y is online now: the next message is pushed and acknowledged.
	_, err = x.SendMessage(ctx, yID, "you there?")
	req.NoError(err)
	req.Eventually(func() bool {
		msgs := y.Snapshot().Messages
		return len(msgs) == 2 && msgs[1].Content == "you there?"
	}, 3*time.Second, 20*time.Millisecond)

	req.Eventually(func() bool {
		n, err := yAPI.UnreadSummary(ctx)
		return err == nil && len(n) == 0
	}, 3*time.Second, 20*time.Millisecond)

	// A relay of an already delivered message is deduplicated by id.
	xRT, err := chatclient.DialRealtime(ctx, baseURL, xToken, xID, nil)
	req.NoError(err)
	defer xRT.Close()
	sent, err := xAPI.SendMessage(ctx, yID, "third")
	req.NoError(err)
	req.NoError(xRT.Notify(ctx, sent.ID))

	req.Eventually(func() bool {
		return len(y.Snapshot().Messages) == 3
	}, 3*time.Second, 20*time.Millisecond)
	req.Never(func() bool {
		return len(y.Snapshot().Messages) > 3
	}, 200*time.Millisecond, 20*time.Millisecond)
}

func TestDialRealtimeRejectsBadToken(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := chatclient.DialRealtime(ctx, startServer(t), "garbage", 1, nil)
	require.Error(t, err)
}
