// Package hostapi talks to the host chat platform's REST API on behalf of the
// calling user, using the identity headers the host runtime forwarded.
package hostapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"diagnostics-proxy/internal/access"
)

const maxResponseBytes = 4 << 20

// StatusError is a non-2xx answer from the host platform.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("host api status %d: %s", e.Status, e.Body)
}

type Client struct {
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a client. Per-call deadlines come from the context; the HTTP
// client timeout is only a backstop.
func New(opts ...Option) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, o := range opts {
		o(c)
	}
	return c
}

type permissionsResponse struct {
	Update  []access.PermissionRecord `json:"update"`
	Success bool                      `json:"success"`
}

// ListPermissions implements access.Lookup.
func (c *Client) ListPermissions(ctx context.Context, t access.Target) ([]access.PermissionRecord, error) {
	if err := checkTarget(t); err != nil {
		return nil, fmt.Errorf("%w: %v", access.ErrLookupUnavailable, err)
	}
	var resp permissionsResponse
	if err := c.do(ctx, t, http.MethodGet, "/api/v1/permissions.listAll", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", access.ErrLookupFailed, err)
	}
	return resp.Update, nil
}

type Room struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
	Type string `json:"t,omitempty"`
}

type roomsResponse struct {
	Update []Room `json:"update"`
}

// Rooms lists the rooms visible to the forwarded user.
func (c *Client) Rooms(ctx context.Context, t access.Target) ([]Room, error) {
	if err := checkTarget(t); err != nil {
		return nil, err
	}
	var resp roomsResponse
	if err := c.do(ctx, t, http.MethodGet, "/api/v1/rooms.get", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Update, nil
}

type Thread struct {
	ID        string    `json:"_id"`
	RoomID    string    `json:"rid"`
	Message   string    `json:"msg"`
	UpdatedAt time.Time `json:"_updatedAt"`
}

type threadsResponse struct {
	Threads []Thread `json:"threads"`
	Total   int      `json:"total"`
}

// Threads lists the threads of one room.
func (c *Client) Threads(ctx context.Context, t access.Target, roomID string) ([]Thread, error) {
	if err := checkTarget(t); err != nil {
		return nil, err
	}
	if roomID == "" {
		return nil, errors.New("room id is required")
	}
	var resp threadsResponse
	params := url.Values{"rid": {roomID}}
	if err := c.do(ctx, t, http.MethodGet, "/api/v1/chat.getThreadsList", params, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Threads, nil
}

// Message is a chat message to post. ThreadID is optional.
type Message struct {
	RoomID   string `json:"roomId"`
	ThreadID string `json:"tmid,omitempty"`
	Text     string `json:"text"`
}

type postMessageResponse struct {
	Message struct {
		ID string `json:"_id"`
	} `json:"message"`
}

// PostMessage posts m as the forwarded user and returns the new message id.
func (c *Client) PostMessage(ctx context.Context, t access.Target, m Message) (string, error) {
	if err := checkTarget(t); err != nil {
		return "", err
	}
	if m.RoomID == "" || m.Text == "" {
		return "", errors.New("room id and text are required")
	}
	var resp postMessageResponse
	if err := c.do(ctx, t, http.MethodPost, "/api/v1/chat.postMessage", nil, m, &resp); err != nil {
		return "", err
	}
	return resp.Message.ID, nil
}

var errMissingIdentity = errors.New("forwarded identity missing")

func checkTarget(t access.Target) error {
	if t.Origin == "" {
		return errors.New("origin missing")
	}
	if t.UserID == "" || t.AuthToken == "" {
		return errMissingIdentity
	}
	return nil
}

func (c *Client) do(ctx context.Context, t access.Target, method, path string, params url.Values, body, result any) error {
	u := t.Origin + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-User-Id", t.UserID)
	req.Header.Set("X-Auth-Token", t.AuthToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := respBody
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return &StatusError{Status: resp.StatusCode, Body: string(snippet)}
	}
	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
