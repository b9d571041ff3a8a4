// Package session owns the persisted authentication state of the portal: the
// user token and the admin login flags. All writes go through Manager so that
// flags are set and cleared together.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/diagnosis/luxsuv-portal/internal/apiclient"
	"github.com/diagnosis/luxsuv-portal/pkg/logger"
)

// Persisted key names.
const (
	KeyToken                = "token"
	KeyUsername             = "username"
	KeyIsAdminAuthenticated = "isAdminAuthenticated"
	KeyAdminLoggedIn        = "adminLoggedIn"
	KeyAdminToken           = "adminToken"
	KeyAdminEmail           = "adminEmail"
)

var ErrNoPendingAdminLogin = errors.New("no admin login awaiting OTP verification")

// Session is the whole persisted state. Presence of these values is the only
// basis for route decisions; tokens are never verified locally.
type Session struct {
	Token                string `json:"token,omitempty"`
	Username             string `json:"username,omitempty"`
	IsAdminAuthenticated bool   `json:"isAdminAuthenticated,omitempty"`
	AdminLoggedIn        bool   `json:"adminLoggedIn,omitempty"`
	AdminToken           string `json:"adminToken,omitempty"`
	AdminEmail           string `json:"adminEmail,omitempty"`
}

func (s Session) Authenticated() bool {
	return s.Token != ""
}

// AdminAuthenticated requires both admin flags and a token. A password-only
// login (OTP still pending) does not count.
func (s Session) AdminAuthenticated() bool {
	return s.IsAdminAuthenticated && s.AdminLoggedIn && s.AdminToken != ""
}

// AdminPending reports a password-accepted admin login waiting for its OTP.
func (s Session) AdminPending() bool {
	return s.AdminLoggedIn && !s.IsAdminAuthenticated
}

func (s *Session) clearUser() {
	s.Token = ""
	s.Username = ""
}

func (s *Session) clearAdmin() {
	s.IsAdminAuthenticated = false
	s.AdminLoggedIn = false
	s.AdminToken = ""
	s.AdminEmail = ""
}

// Store persists a Session as one unit.
type Store interface {
	Load(ctx context.Context) (Session, error)
	Save(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
}

type Manager struct {
	mu    sync.Mutex
	store Store
}

func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

func (m *Manager) Current(ctx context.Context) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Load(ctx)
}

// update loads, mutates and saves the session under the manager lock.
func (m *Manager) update(ctx context.Context, fn func(s *Session) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if err := fn(&s); err != nil {
		return err
	}
	if s == (Session{}) {
		return m.store.Clear(ctx)
	}
	if err := m.store.Save(ctx, s); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Login stores the user token. Admin state is left as is.
func (m *Manager) Login(ctx context.Context, token, username string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("login requires a token")
	}
	return m.update(ctx, func(s *Session) error {
		s.Token = token
		s.Username = strings.TrimSpace(username)
		return nil
	})
}

func (m *Manager) Logout(ctx context.Context) error {
	return m.update(ctx, func(s *Session) error {
		s.clearUser()
		return nil
	})
}

// BeginAdminLogin records an accepted admin password. The admin is not
// authenticated until CompleteAdminLogin.
func (m *Manager) BeginAdminLogin(ctx context.Context, email string) error {
	return m.update(ctx, func(s *Session) error {
		s.clearAdmin()
		s.AdminLoggedIn = true
		s.AdminEmail = strings.TrimSpace(email)
		return nil
	})
}

func (m *Manager) CompleteAdminLogin(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("admin login requires a token")
	}
	return m.update(ctx, func(s *Session) error {
		if !s.AdminLoggedIn {
			return ErrNoPendingAdminLogin
		}
		s.IsAdminAuthenticated = true
		s.AdminToken = token
		return nil
	})
}

func (m *Manager) AdminLogout(ctx context.Context) error {
	return m.update(ctx, func(s *Session) error {
		s.clearAdmin()
		return nil
	})
}

// ClearUser drops user credentials after the backend rejected them.
func (m *Manager) ClearUser(ctx context.Context) error {
	logger.WarnContext(ctx, "Clearing user session after authorization failure")
	return m.Logout(ctx)
}

// ClearAdmin drops admin credentials after the backend rejected them.
func (m *Manager) ClearAdmin(ctx context.Context) error {
	logger.WarnContext(ctx, "Clearing admin session after authorization failure")
	return m.AdminLogout(ctx)
}

func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	s, err := m.Current(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read session", "error", err)
		return false
	}
	return s.Authenticated()
}

func (m *Manager) IsAdminAuthenticated(ctx context.Context) bool {
	s, err := m.Current(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to read session", "error", err)
		return false
	}
	return s.AdminAuthenticated()
}

// BearerToken implements apiclient.TokenSource. An empty result makes the
// client fail with ErrNoToken before sending anything.
func (m *Manager) BearerToken(ctx context.Context, scope apiclient.Scope) (string, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load session: %w", err)
	}
	switch scope {
	case apiclient.ScopeUser, apiclient.ScopeUserOptional:
		return s.Token, nil
	case apiclient.ScopeAdmin:
		if !s.AdminAuthenticated() {
			return "", nil
		}
		return s.AdminToken, nil
	}
	return "", nil
}
