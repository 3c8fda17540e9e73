// Package api is the HTTP client for the storyline REST backend. Every
// response is an envelope carrying either data or an application error.
// HTTP 4xx and 5xx responses come back in the envelope; only transport
// failures are returned as Go errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

type Client struct {
	BaseURL     string
	WorkspaceID string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration

	initOnce  sync.Once
	transport *http.Client
}

// New creates a client with sane defaults.
func New(baseURL, workspaceID string) *Client {
	return &Client{
		BaseURL:     baseURL,
		WorkspaceID: workspaceID,
		Timeout:     10 * time.Second,
	}
}

// Error is an application error reported by the backend.
type Error struct {
	Status  int            `json:"-"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type Envelope[T any] struct {
	Data  T      `json:"data"`
	Error *Error `json:"error,omitempty"`
}

// Err returns the envelope's application error as an error, or nil.
func (e Envelope[T]) Err() error {
	if e.Error == nil {
		return nil
	}
	return e.Error
}

func Get[T any](ctx context.Context, c *Client, path string, query url.Values) (Envelope[T], error) {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return send[T](ctx, c, http.MethodGet, path, nil)
}

func Post[T any](ctx context.Context, c *Client, path string, body any) (Envelope[T], error) {
	return send[T](ctx, c, http.MethodPost, path, body)
}

func Put[T any](ctx context.Context, c *Client, path string, body any) (Envelope[T], error) {
	return send[T](ctx, c, http.MethodPut, path, body)
}

// Remove issues a DELETE; body may be nil or carry bulk ids.
func Remove[T any](ctx context.Context, c *Client, path string, body any) (Envelope[T], error) {
	return send[T](ctx, c, http.MethodDelete, path, body)
}

func send[T any](ctx context.Context, c *Client, method, path string, body any) (Envelope[T], error) {
	var env Envelope[T]
	raw, status, err := c.do(ctx, method, path, body)
	if err != nil {
		return env, err
	}
	if status >= 400 {
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &env)
		}
		if env.Error == nil {
			env.Error = &Error{
				Code:    codeForStatus(status),
				Message: fmt.Sprintf("%d %s: %s", status, http.StatusText(status), strings.TrimSpace(string(raw))),
			}
		}
		env.Error.Status = status
		return env, nil
	}
	if len(raw) == 0 {
		return env, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	if env.Error != nil {
		env.Error.Status = status
	}
	return env, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, int, error) {
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, 0, fmt.Errorf("encode request: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%s %s: read body: %w", method, endpoint, err)
	}
	return raw, resp.StatusCode, nil
}

// httpClient resolves the transport on the first request. HTTPClient and
// Timeout changes after that are ignored.
func (c *Client) httpClient() *http.Client {
	c.initOnce.Do(func() {
		c.transport = c.HTTPClient
		if c.transport == nil {
			c.transport = &http.Client{Timeout: c.Timeout}
		}
	})
	return c.transport
}

func (c *Client) workspacePath(p string) string {
	ws := url.PathEscape(c.WorkspaceID)
	return fmt.Sprintf("v0/workspaces/%s/%s", ws, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	default:
		if status >= 500 {
			return "internal_error"
		}
		return "error"
	}
}
