package response

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/luxsuv-portal/internal/notify"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
)

// ErrorResponse represents a structured JSON error response
type ErrorResponse struct {
	Error      string            `json:"error"`
	Code       string            `json:"code,omitempty"`
	Level      notify.Level      `json:"level,omitempty"`
	Fields     map[string]string `json:"fields,omitempty"`
	RedirectTo string            `json:"redirectTo,omitempty"`
}

// Common error codes
const (
	CodeInvalidInput  = "INVALID_INPUT"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeNotFound      = "NOT_FOUND"
	CodeConflict      = "CONFLICT"
	CodeRateLimit     = "RATE_LIMIT_EXCEEDED"
	CodeUpstream      = "UPSTREAM_UNAVAILABLE"
	CodeUnconfirmed   = "BOOKING_UNCONFIRMED"
	CodeRejected      = "REJECTED"
	CodeInternalError = "INTERNAL_ERROR"
	CodeFlowNotFound  = "FLOW_NOT_FOUND"
)

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteError writes a structured JSON error response
func WriteError(w http.ResponseWriter, statusCode int, message string, code string) {
	JSON(w, statusCode, ErrorResponse{Error: message, Code: code, Level: notify.LevelError})
}

// WriteNotice writes the notice derived from a failed step.
func WriteNotice(w http.ResponseWriter, n notify.Notice) {
	status := n.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	JSON(w, status, ErrorResponse{
		Error:      n.Message,
		Code:       codeFor(status),
		Level:      n.Level,
		Fields:     n.Fields,
		RedirectTo: n.Redirect,
	})
}

// Err classifies err and writes it. Server-side failures are logged.
func Err(w http.ResponseWriter, r *http.Request, err error) {
	n := notify.FromError(err)
	if n.Status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	} else {
		logger.InfoContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", n.Status, "error", err)
	}
	WriteNotice(w, n)
}

func codeFor(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return CodeInvalidInput
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return CodeUnauthorized
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusAccepted:
		return CodeUnconfirmed
	case status == http.StatusBadGateway:
		return CodeUpstream
	case status >= 500:
		return CodeInternalError
	default:
		return CodeRejected
	}
}

// BadRequest answers malformed request bodies.
func BadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message, CodeInvalidInput)
}
