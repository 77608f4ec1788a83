// Package client is a thin, domain-scoped client for the platform API. It is
// pre-authenticated with one job's issued token, so everything it does is
// constrained to that job's domain. The executed function reaches the outside
// world only through this client.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/skirmish-gg/dispatch/errors"
)

// Client calls the platform API on behalf of one domain.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// Option configures a client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// New creates a client authenticated with the given bearer token.
func New(baseURL, token string, options ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("%s %s: API returned %s", method, path, resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%s %s: decode response: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Function is a user-authored automation function body.
type Function struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Code string `json:"code"`
}

// GetFunction fetches a function body by id. An unknown id is a resolution
// failure: permanent, never retried.
func (c *Client) GetFunction(ctx context.Context, functionID string) (*Function, error) {
	var fn Function
	status, err := c.do(ctx, http.MethodGet, "/functions/"+functionID, nil, &fn)
	if status == http.StatusNotFound {
		return nil, errors.NewFunctionResolution(functionID, errors.ErrFunctionNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

// MessageOpts targets a chat message at a specific recipient instead of the
// whole server.
type MessageOpts struct {
	RecipientGameID string `json:"recipientGameId,omitempty"`
}

type sendMessageRequest struct {
	Message string       `json:"message"`
	Opts    *MessageOpts `json:"opts,omitempty"`
}

// SendMessage sends a chat message to a game server.
func (c *Client) SendMessage(ctx context.Context, gameServerID, message string, opts *MessageOpts) error {
	_, err := c.do(ctx, http.MethodPost, "/gameservers/"+gameServerID+"/message",
		sendMessageRequest{Message: message, Opts: opts}, nil)
	return err
}

// OnlinePlayer is one player currently on a game server.
type OnlinePlayer struct {
	PlayerID string `json:"playerId"`
	GameID   string `json:"gameId"`
	Name     string `json:"name"`
	Ping     int    `json:"ping,omitempty"`
}

// Players lists the players currently online on a game server.
func (c *Client) Players(ctx context.Context, gameServerID string) ([]OnlinePlayer, error) {
	var players []OnlinePlayer
	if _, err := c.do(ctx, http.MethodGet, "/gameservers/"+gameServerID+"/players", nil, &players); err != nil {
		return nil, err
	}
	return players, nil
}
