package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"

	"github.com/vovakirdan/wiredm/internal/auth"
	"github.com/vovakirdan/wiredm/internal/proto"
)

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

// HTTPClient talks to the REST API with a bearer token.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

var _ API = (*HTTPClient)(nil)

// NewHTTPClient creates a client for the server at baseURL.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Token returns the bearer token the client authenticates with.
func (c *HTTPClient) Token() string {
	return c.token
}

// Login exchanges credentials for a token.
func Login(ctx context.Context, baseURL, username, password string) (string, error) {
	return authenticate(ctx, baseURL, "/api/login", map[string]string{
		"username": username,
		"password": password,
	})
}

// Register creates an account and returns its token.
func Register(ctx context.Context, baseURL, username, name, password string) (string, error) {
	return authenticate(ctx, baseURL, "/api/register", map[string]string{
		"username": username,
		"name":     name,
		"password": password,
	})
}

func authenticate(ctx context.Context, baseURL, path string, body any) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	if err := NewHTTPClient(baseURL, "").do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	return resp.Token, nil
}

// SelfID extracts the user id from a token issued by the server.
// The signature is not checked; the server does that on every request.
func SelfID(token string) (int64, error) {
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return 0, fmt.Errorf("parse token: %w", err)
	}
	if claims.UserID <= 0 {
		return 0, errors.New("token carries no user id")
	}
	return claims.UserID, nil
}

func (c *HTTPClient) ListPeers(ctx context.Context) ([]Peer, error) {
	var peers []Peer
	if err := c.do(ctx, http.MethodGet, "/api/users", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

func (c *HTTPClient) UnreadSummary(ctx context.Context) (map[int64]int, error) {
	var raw map[string]int
	if err := c.do(ctx, http.MethodGet, "/api/messages/unread-count", nil, &raw); err != nil {
		return nil, err
	}
	counts := make(map[int64]int, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unread summary key %q: %w", k, err)
		}
		counts[id] = v
	}
	return counts, nil
}

func (c *HTTPClient) FetchConversation(ctx context.Context, peerID int64) ([]Message, error) {
	var wire []proto.Message
	path := "/api/messages?" + url.Values{"with": {strconv.FormatInt(peerID, 10)}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &wire); err != nil {
		return nil, err
	}
	return lo.Map(wire, func(m proto.Message, _ int) Message { return fromWire(m) }), nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, peerID int64, content string) (Message, error) {
	var wire proto.Message
	body := map[string]any{"receiver_id": peerID, "content": content}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, &wire); err != nil {
		return Message{}, err
	}
	return fromWire(wire), nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, messageID int64) error {
	return c.do(ctx, http.MethodPut, "/api/messages", map[string]int64{"message_id": messageID}, nil)
}

func (c *HTTPClient) MarkConversationRead(ctx context.Context, peerID int64) error {
	path := "/api/messages/mark-read?" + url.Values{"with": {strconv.FormatInt(peerID, 10)}}.Encode()
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func fromWire(m proto.Message) Message {
	return Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  time.UnixMilli(m.CreatedAt),
		Read:       m.Read,
	}
}
