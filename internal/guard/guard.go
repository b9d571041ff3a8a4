// Package guard decides whether a session may reach a protected page and
// turns backend authorization failures into redirects.
package guard

import (
	"context"
	"errors"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
)

const (
	UserLoginPath  = "/login"
	AdminLoginPath = "/admin/login"
)

type Decision struct {
	Allowed    bool   `json:"allowed"`
	RedirectTo string `json:"redirectTo,omitempty"`
}

func RequireUser(s session.Session) Decision {
	if s.Authenticated() {
		return Decision{Allowed: true}
	}
	return Decision{RedirectTo: UserLoginPath}
}

// RequireAdmin lets a session through only with both admin flags and the
// admin token. Either flag alone redirects to the admin login.
func RequireAdmin(s session.Session) Decision {
	if s.AdminAuthenticated() {
		return Decision{Allowed: true}
	}
	return Decision{RedirectTo: AdminLoginPath}
}

// RedirectError is an authorization failure the caller should answer by
// sending the user to a login page.
type RedirectError struct {
	To  string
	Err error
}

func (e *RedirectError) Error() string {
	return "authorization required, redirect to " + e.To + ": " + e.Err.Error()
}

func (e *RedirectError) Unwrap() error { return e.Err }

func IsRedirect(err error) (*RedirectError, bool) {
	var re *RedirectError
	ok := errors.As(err, &re)
	return re, ok
}

// Clearer drops session credentials.
type Clearer interface {
	ClearUser(ctx context.Context) error
	ClearAdmin(ctx context.Context) error
}

// HandleAuthError clears the credentials for scope and wraps err in a
// RedirectError when err is an authorization failure. Other errors are
// returned unchanged. A missing token redirects without clearing, so a
// pending admin login survives.
func HandleAuthError(ctx context.Context, c Clearer, scope apiclient.Scope, err error) error {
	if err == nil || !errors.Is(err, apiclient.ErrUnauthorized) {
		return err
	}
	if _, already := IsRedirect(err); already {
		return err
	}

	to := UserLoginPath
	drop := c.ClearUser
	if scope == apiclient.ScopeAdmin {
		to = AdminLoginPath
		drop = c.ClearAdmin
	}
	if errors.Is(err, apiclient.ErrNoToken) {
		return &RedirectError{To: to, Err: err}
	}
	if cerr := drop(ctx); cerr != nil {
		logger.ErrorContext(ctx, "Failed to clear session after authorization failure", "error", cerr)
	}
	return &RedirectError{To: to, Err: err}
}

// Enforce applies check to s. A denied session yields a RedirectError
// wrapping apiclient.ErrNoToken, so nothing is sent and nothing is cleared.
func Enforce(s session.Session, check func(session.Session) Decision) error {
	d := check(s)
	if d.Allowed {
		return nil
	}
	return &RedirectError{To: d.RedirectTo, Err: apiclient.ErrNoToken}
}
