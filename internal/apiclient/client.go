// Package apiclient talks to the booking backend. One Client wraps one base
// origin; every request is JSON in and JSON out, and nothing is retried.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-portal/pkg/logger"
)

// Scope selects which bearer token a call carries.
type Scope int

const (
	ScopeNone Scope = iota
	ScopeUser
	ScopeAdmin
	// ScopeUserOptional attaches the user token when there is one and sends
	// the request anonymously otherwise.
	ScopeUserOptional
)

func (s Scope) String() string {
	switch s {
	case ScopeUser:
		return "user"
	case ScopeAdmin:
		return "admin"
	case ScopeUserOptional:
		return "user-optional"
	default:
		return "none"
	}
}

// TokenSource supplies bearer tokens from session state.
type TokenSource interface {
	BearerToken(ctx context.Context, scope Scope) (string, error)
}

type Client struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets a whole-request ceiling. Zero leaves requests unbounded
// except by the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// do sends in (if non-nil) as JSON and decodes the response into out (if
// non-nil). op names the call in errors and logs.
func (c *Client) do(ctx context.Context, op, method, path string, scope Scope, in, out any) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	if scope == ScopeUserOptional {
		if c.tokens != nil {
			if token, err := c.tokens.BearerToken(ctx, scope); err == nil && token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}
	} else if scope != ScopeNone {
		if c.tokens == nil {
			return fmt.Errorf("%s: %w", op, ErrNoToken)
		}
		token, err := c.tokens.BearerToken(ctx, scope)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if token == "" {
			return fmt.Errorf("%s: %w", op, ErrNoToken)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok && requestID != "" {
		req.Header.Set("X-Request-ID", requestID)
	}

	logger.DebugContext(ctx, "Backend request",
		"op", op,
		"method", method,
		"url", url,
		"scope", scope.String(),
	)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}

	logger.DebugContext(ctx, "Backend response",
		"op", op,
		"status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseAPIError(op, resp.StatusCode, body)
	}

	// Some routes answer 200 with {"success": false, "message": ...}.
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil && eb.Success != nil && !*eb.Success {
		return &APIError{Op: op, Status: resp.StatusCode, Message: eb.text(), Code: eb.Code}
	}

	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, op, path string, scope Scope, out any) error {
	return c.do(ctx, op, http.MethodGet, path, scope, nil, out)
}

func (c *Client) post(ctx context.Context, op, path string, scope Scope, in, out any) error {
	return c.do(ctx, op, http.MethodPost, path, scope, in, out)
}

func (c *Client) put(ctx context.Context, op, path string, scope Scope, in, out any) error {
	return c.do(ctx, op, http.MethodPut, path, scope, in, out)
}

func (c *Client) delete(ctx context.Context, op, path string, scope Scope, out any) error {
	return c.do(ctx, op, http.MethodDelete, path, scope, nil, out)
}

// StaticTokens is a TokenSource with fixed tokens, handy for scripts and tests.
type StaticTokens struct {
	User  string
	Admin string
}

func (s StaticTokens) BearerToken(_ context.Context, scope Scope) (string, error) {
	switch scope {
	case ScopeAdmin:
		return s.Admin, nil
	case ScopeUser, ScopeUserOptional:
		return s.User, nil
	}
	return "", nil
}
