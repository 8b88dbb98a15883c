package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matpinto/courtline/internal/protocol"
	"go.uber.org/zap"
)

var (
	// ErrUnauthorized means the server rejected the token.
	ErrUnauthorized = errors.New("rest: unauthorized")

	// ErrTokenExpired is reported before any request is made when the
	// bearer token's exp claim is already in the past.
	ErrTokenExpired = errors.New("rest: token expired")
)

// Player is a searchable member of the federation directory.
type Player struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsOnline    bool   `json:"is_online"`
}

// Conversation is the server's conversation summary.
type Conversation struct {
	ID          int64                `json:"id"`
	Participant Player               `json:"participant"`
	LastMessage *protocol.NewMessage `json:"last_message"`
	UpdatedAt   protocol.UnixTime    `json:"updated_at"`
}

// Client talks to the chat server's HTTP API with a bearer token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a client. baseURL has no trailing slash.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  logger.Named("rest"),
	}
}

// CheckToken inspects the token's expiry claim without verifying the
// signature; verification is the server's job. It catches the common
// stale-token case before the first request goes out.
func (c *Client) CheckToken() error {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return fmt.Errorf("rest: malformed token: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if exp.Before(time.Now()) {
		return ErrTokenExpired
	}
	return nil
}

// UserID extracts the authenticated player's id from the token's sub
// claim.
func (c *Client) UserID() (int64, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return 0, fmt.Errorf("rest: malformed token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return 0, fmt.Errorf("rest: token has no subject: %w", err)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("rest: non-numeric subject %q", sub)
	}
	return id, nil
}

// ListConversations fetches every conversation visible to the user.
func (c *Client) ListConversations(ctx context.Context) ([]Conversation, error) {
	var out []Conversation
	if err := c.get(ctx, "/api/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListMessages pages a conversation's history backwards. A zero before
// time means newest-first from the head; limit <= 0 selects the server
// default.
func (c *Client) ListMessages(ctx context.Context, conversationID int64, before time.Time, limit int) ([]protocol.NewMessage, error) {
	q := url.Values{}
	if !before.IsZero() {
		q.Set("before", strconv.FormatInt(before.UnixMilli(), 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []protocol.NewMessage
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.get(ctx, path, q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message over HTTP. The socket path is preferred;
// this is the fallback when no socket is up.
func (c *Client) SendMessage(ctx context.Context, conversationID int64, content, clientMsgID string) (protocol.MessageAck, error) {
	body := map[string]string{
		"content":       content,
		"message_type":  "text",
		"client_msg_id": clientMsgID,
	}
	var ack protocol.MessageAck
	path := fmt.Sprintf("/api/conversations/%d/messages", conversationID)
	if err := c.post(ctx, path, body, &ack); err != nil {
		return protocol.MessageAck{}, err
	}
	return ack, nil
}

// OpenConversation asks the server for the direct conversation with a
// player, creating it when none exists yet.
func (c *Client) OpenConversation(ctx context.Context, playerID int64) (Conversation, error) {
	body := map[string]int64{"participant_id": playerID}
	var out Conversation
	if err := c.post(ctx, "/api/conversations", body, &out); err != nil {
		return Conversation{}, err
	}
	return out, nil
}

// SearchPlayers queries the player directory.
func (c *Client) SearchPlayers(ctx context.Context, query string) ([]Player, error) {
	q := url.Values{}
	q.Set("q", query)
	var out []Player
	if err := c.get(ctx, "/api/players/search", q, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Contacts returns players the user has talked to before.
func (c *Client) Contacts(ctx context.Context) ([]Player, error) {
	var out []Player
	if err := c.get(ctx, "/api/contacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateOnlineStatus reports our own presence. Satisfies the presence
// tracker's Reporter interface.
func (c *Client) UpdateOnlineStatus(ctx context.Context, online bool) error {
	body := map[string]bool{"is_online": online}
	return c.put(ctx, "/api/players/me/status", body, nil)
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.write(ctx, http.MethodPost, path, body, out)
}

func (c *Client) put(ctx context.Context, path string, body, out any) error {
	return c.write(ctx, http.MethodPut, path, body, out)
}

func (c *Client) write(ctx context.Context, method, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode >= 400:
		return fmt.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
