package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrUnauthorized matches any 401/403 answer or a missing bearer token.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNoToken is returned before any network call when an authenticated
	// endpoint is called without a stored token.
	ErrNoToken = fmt.Errorf("%w: no token in session", ErrUnauthorized)
)

// NetworkError wraps transport failures: DNS, refused connections, timeouts,
// unreadable bodies. The request may or may not have reached the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a response the backend produced on purpose: a non-2xx status or
// a 2xx envelope carrying success=false.
type APIError struct {
	Op      string
	Status  int
	Message string
	Code    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s (status %d)", e.Op, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: request failed with status %d", e.Op, e.Status)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Unauthorized()
}

func (e *APIError) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// ServerMessage returns the backend's own message for err, if it sent one.
func ServerMessage(err error) (string, bool) {
	var ae *APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message, true
	}
	return "", false
}

// errorBody covers the error shapes the backend is known to send.
type errorBody struct {
	Success *bool  `json:"success"`
	Message string `json:"message"`
	Error   any    `json:"error"`
	Msg     string `json:"msg"`
	Code    string `json:"code"`
}

func (b errorBody) text() string {
	switch {
	case strings.TrimSpace(b.Message) != "":
		return b.Message
	case strings.TrimSpace(b.Msg) != "":
		return b.Msg
	}
	switch v := b.Error.(type) {
	case string:
		return v
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			return m
		}
	}
	return ""
}

func parseAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, Status: status}
	var eb errorBody
	if len(body) > 0 && json.Unmarshal(body, &eb) == nil {
		e.Message = eb.text()
		e.Code = eb.Code
	}
	return e
}
