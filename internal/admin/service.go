// Package admin backs the administrator dashboard: two-step login, user and
// booking management, and dashboard statistics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/diagnosis/luxsuv-portal/internal/guard"
	"github.com/diagnosis/luxsuv-portal/internal/session"
	"github.com/diagnosis/luxsuv-portal/pkg/events"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
)

type Backend interface {
	AdminLogin(ctx context.Context, creds domain.Credentials) (*apiclient.AdminLoginResponse, error)
	AdminVerifyOTP(ctx context.Context, req apiclient.AdminVerifyOTPRequest) (*apiclient.AdminVerifyOTPResponse, error)
	AdminUsers(ctx context.Context, opts *apiclient.ListOptions) ([]domain.User, error)
	AdminBookings(ctx context.Context, opts *apiclient.ListOptions) ([]domain.Booking, error)
	AdminPastBookings(ctx context.Context, opts *apiclient.ListOptions) ([]domain.Booking, error)
	AdminUpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error)
	AdminDeleteUser(ctx context.Context, id string) error
	CancelBooking(ctx context.Context, id string) error
}

// Sessions is the admin half of the session manager.
type Sessions interface {
	guard.Clearer
	Current(ctx context.Context) (session.Session, error)
	BeginAdminLogin(ctx context.Context, email string) error
	CompleteAdminLogin(ctx context.Context, token string) error
	AdminLogout(ctx context.Context) error
}

var ErrMissingID = errors.New("id is required")

type Service struct {
	api      Backend
	sessions Sessions
	events   events.Publisher
	now      func() time.Time
}

func NewService(api Backend, sessions Sessions, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{api: api, sessions: sessions, events: publisher, now: time.Now}
}

// authErr clears admin state and converts authorization failures into a
// redirect to the admin login.
func (s *Service) authErr(ctx context.Context, err error) error {
	return guard.HandleAuthError(ctx, s.sessions, apiclient.ScopeAdmin, err)
}

// authorize loads the session and refuses, before any request goes out,
// unless the admin login is complete.
func (s *Service) authorize(ctx context.Context) (session.Session, error) {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to load admin session", "error", err)
		return session.Session{}, fmt.Errorf("failed to load session: %w", err)
	}
	if err := guard.Enforce(sess, guard.RequireAdmin); err != nil {
		return session.Session{}, err
	}
	return sess, nil
}

// Login checks the admin password. On success the session records a pending
// login; the dashboard stays closed until VerifyOTP.
func (s *Service) Login(ctx context.Context, email, password string) error {
	creds := domain.Credentials{Email: email, Password: password}
	creds.Normalize()
	if err := creds.Validate(); err != nil {
		return err
	}

	if _, err := s.api.AdminLogin(ctx, creds); err != nil {
		logger.WarnContext(ctx, "Admin login rejected", "email", creds.Email, "error", err)
		return err
	}
	if err := s.sessions.BeginAdminLogin(ctx, creds.Email); err != nil {
		return fmt.Errorf("failed to record admin login: %w", err)
	}
	logger.InfoContext(ctx, "Admin password accepted, OTP pending", "email", creds.Email)
	return nil
}

// VerifyOTP completes a pending admin login. A rejected code changes nothing.
func (s *Service) VerifyOTP(ctx context.Context, otp string) error {
	sess, err := s.sessions.Current(ctx)
	if err != nil {
		return err
	}
	if !sess.AdminPending() {
		return session.ErrNoPendingAdminLogin
	}
	otp = strings.TrimSpace(otp)
	if err := domain.ValidateOTP(otp); err != nil {
		return err
	}

	resp, err := s.api.AdminVerifyOTP(ctx, apiclient.AdminVerifyOTPRequest{Email: sess.AdminEmail, OTP: otp})
	if err != nil {
		logger.WarnContext(ctx, "Admin OTP rejected", "email", sess.AdminEmail, "error", err)
		return err
	}
	if err := s.sessions.CompleteAdminLogin(ctx, resp.Token); err != nil {
		return fmt.Errorf("failed to record admin login: %w", err)
	}

	if err := s.events.Publish(ctx, events.AdminLoggedIn, events.AdminLoginEvent{Email: sess.AdminEmail, OccurredAt: s.now().UTC()}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish admin login event", "error", err)
	}
	logger.InfoContext(ctx, "Admin authenticated", "email", sess.AdminEmail)
	return nil
}

func (s *Service) Logout(ctx context.Context) error {
	return s.sessions.AdminLogout(ctx)
}

func (s *Service) Users(ctx context.Context, opts *apiclient.ListOptions) ([]domain.User, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	users, err := s.api.AdminUsers(ctx, opts)
	if err != nil {
		return nil, s.authErr(ctx, err)
	}
	return users, nil
}

// Bookings lists bookings from the backend and applies f locally. Past
// bookings come from their own endpoint; everything else from the main list.
func (s *Service) Bookings(ctx context.Context, f Filter) ([]domain.Booking, error) {
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	opts := &apiclient.ListOptions{Search: f.Search}
	if f.Status != "" {
		opts.Status = string(f.Status)
	}

	var (
		list []domain.Booking
		err  error
	)
	if f.When == WhenPast {
		list, err = s.api.AdminPastBookings(ctx, opts)
	} else {
		list, err = s.api.AdminBookings(ctx, opts)
	}
	if err != nil {
		return nil, s.authErr(ctx, err)
	}
	return f.Apply(list, s.now()), nil
}

func (s *Service) UpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx); err != nil {
		return nil, err
	}
	u, err := s.api.AdminUpdateUser(ctx, id, patch)
	if err != nil {
		return nil, s.authErr(ctx, err)
	}
	logger.InfoContext(ctx, "User updated by admin", "user_id", id)
	return u, nil
}

func (s *Service) DeleteUser(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	if _, err := s.authorize(ctx); err != nil {
		return err
	}
	if err := s.api.AdminDeleteUser(ctx, id); err != nil {
		return s.authErr(ctx, err)
	}
	logger.InfoContext(ctx, "User deleted by admin", "user_id", id)
	return nil
}

func (s *Service) CancelBooking(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return ErrMissingID
	}
	sess, err := s.authorize(ctx)
	if err != nil {
		return err
	}
	if err := s.api.CancelBooking(ctx, id); err != nil {
		return s.authErr(ctx, err)
	}

	if err := s.events.Publish(ctx, events.BookingCancelled, events.BookingCancelledEvent{
		BookingID:   id,
		CancelledBy: sess.AdminEmail,
		OccurredAt:  s.now().UTC(),
	}); err != nil {
		logger.ErrorContext(ctx, "Failed to publish cancellation event", "error", err)
	}
	logger.InfoContext(ctx, "Booking cancelled by admin", "booking_id", id)
	return nil
}
