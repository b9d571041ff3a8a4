// Package notify turns errors from any step into the message a user sees.
package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/flow"
	"github.com/diagnosis/luxsuv-portal/internal/guard"
	"github.com/diagnosis/luxsuv-portal/internal/session"
)

type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

const (
	MessageValidation = "Please correct the highlighted fields."
	MessageNetwork    = "Unable to reach the server. Please check your connection and try again."
	MessageServer     = "Something went wrong. Please try again."
	MessageSession    = "Your session has expired. Please log in again."
	MessageLogin      = "Please log in to continue."
	MessageOrphaned   = "Your booking was received but could not be confirmed. Please contact support before booking again."
)

// Notice is one user-visible notification. Fields carries inline messages for
// validation failures; Redirect is set for authorization failures.
type Notice struct {
	Level    Level             `json:"level"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirectTo,omitempty"`
	Status   int               `json:"-"`
}

func Success(msg string) Notice {
	return Notice{Level: LevelInfo, Message: msg, Status: http.StatusOK}
}

// FromError classifies err. Order matters: a redirect wraps an API error and
// must win over it. A bare 401 with a server message, such as a rejected
// password, shows that message.
func FromError(err error) Notice {
	if err == nil {
		return Notice{}
	}

	var verrs domain.ValidationErrors
	var apiErr *apiclient.APIError

	switch re, isRedirect := guard.IsRedirect(err); {
	case errors.As(err, &verrs):
		return Notice{Level: LevelWarning, Message: MessageValidation, Fields: verrs.ByField(), Status: http.StatusBadRequest}
	case isRedirect:
		return Notice{Level: LevelError, Message: MessageSession, Redirect: re.To, Status: http.StatusUnauthorized}
	case errors.Is(err, apiclient.ErrNoToken):
		return Notice{Level: LevelWarning, Message: MessageLogin, Status: http.StatusUnauthorized}
	case apiclient.IsNetwork(err), errors.Is(err, context.DeadlineExceeded):
		return Notice{Level: LevelError, Message: MessageNetwork, Status: http.StatusBadGateway}
	case errors.Is(err, flow.ErrConfirmationAmbiguous):
		return Notice{Level: LevelError, Message: MessageOrphaned, Status: http.StatusAccepted}
	case errors.Is(err, flow.ErrInvalidTransition):
		return Notice{Level: LevelWarning, Message: "That step is not available right now.", Status: http.StatusConflict}
	case errors.Is(err, flow.ErrVehicleNotOffered),
		errors.Is(err, flow.ErrMobileNotChecked),
		errors.Is(err, flow.ErrIdentityIncomplete),
		errors.Is(err, flow.ErrBookingAlreadyCreated),
		errors.Is(err, session.ErrNoPendingAdminLogin):
		return Notice{Level: LevelWarning, Message: sentence(rootMessage(err)), Status: http.StatusConflict}
	case errors.As(err, &apiErr):
		n := Notice{Level: LevelError, Message: MessageServer, Status: apiErr.Status}
		switch {
		case apiErr.Message != "":
			n.Message = apiErr.Message
		case apiErr.Unauthorized():
			n.Message = MessageSession
		}
		if n.Status < 400 {
			n.Status = http.StatusUnprocessableEntity
		}
		return n
	default:
		return Notice{Level: LevelError, Message: MessageServer, Status: http.StatusInternalServerError}
	}
}

// rootMessage returns the innermost error text.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func sentence(s string) string {
	if s == "" {
		return s
	}
	if s[0] >= 'a' && s[0] <= 'z' {
		s = string(s[0]-'a'+'A') + s[1:]
	}
	if !strings.HasSuffix(s, ".") {
		s += "."
	}
	return s
}
