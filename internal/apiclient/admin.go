package apiclient

import (
	"context"
	"net/url"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
	"github.com/google/go-querystring/query"
)

const (
	pathAdminLogin        = "/api/admin/login"
	pathAdminVerifyOTP    = "/api/admin/verify-otp"
	pathAdminUsers        = "/api/admin/users"
	pathAdminUpdateUser   = "/api/admin/users/update/"
	pathAdminBookings     = "/api/admin/bookings"
	pathAdminPastBookings = "/api/admin/pastbookings"
)

// ListOptions narrows admin list calls. Zero values are omitted.
type ListOptions struct {
	Page   int    `url:"page,omitempty"`
	Limit  int    `url:"limit,omitempty"`
	Search string `url:"search,omitempty"`
	Status string `url:"status,omitempty"`
}

func withQuery(path string, opts *ListOptions) (string, error) {
	if opts == nil {
		return path, nil
	}
	v, err := query.Values(opts)
	if err != nil {
		return "", err
	}
	if enc := v.Encode(); enc != "" {
		return path + "?" + enc, nil
	}
	return path, nil
}

type AdminLoginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// AdminLogin checks admin credentials. On success the backend sends the admin
// an OTP; no token is issued until AdminVerifyOTP.
func (c *Client) AdminLogin(ctx context.Context, creds domain.Credentials) (*AdminLoginResponse, error) {
	var out AdminLoginResponse
	if err := c.post(ctx, "admin login", pathAdminLogin, ScopeNone, creds, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type AdminVerifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type AdminVerifyOTPResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Message string `json:"message,omitempty"`
}

func (c *Client) AdminVerifyOTP(ctx context.Context, req AdminVerifyOTPRequest) (*AdminVerifyOTPResponse, error) {
	var out AdminVerifyOTPResponse
	if err := c.post(ctx, "admin verify otp", pathAdminVerifyOTP, ScopeNone, req, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &APIError{Op: "admin verify otp", Status: 200, Message: "verification response did not include a token"}
	}
	return &out, nil
}

func (c *Client) AdminUsers(ctx context.Context, opts *ListOptions) ([]domain.User, error) {
	path, err := withQuery(pathAdminUsers, opts)
	if err != nil {
		return nil, err
	}
	var out struct {
		Users []domain.User `json:"users"`
	}
	if err := c.get(ctx, "admin users", path, ScopeAdmin, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) AdminBookings(ctx context.Context, opts *ListOptions) ([]domain.Booking, error) {
	return c.adminBookingList(ctx, "admin bookings", pathAdminBookings, opts)
}

func (c *Client) AdminPastBookings(ctx context.Context, opts *ListOptions) ([]domain.Booking, error) {
	return c.adminBookingList(ctx, "admin past bookings", pathAdminPastBookings, opts)
}

func (c *Client) adminBookingList(ctx context.Context, op, base string, opts *ListOptions) ([]domain.Booking, error) {
	path, err := withQuery(base, opts)
	if err != nil {
		return nil, err
	}
	var out struct {
		Bookings []domain.Booking `json:"bookings"`
	}
	if err := c.get(ctx, op, path, ScopeAdmin, &out); err != nil {
		return nil, err
	}
	return out.Bookings, nil
}

func (c *Client) AdminUpdateUser(ctx context.Context, id string, patch domain.UserPatch) (*domain.User, error) {
	var out struct {
		User *domain.User `json:"user"`
	}
	if err := c.put(ctx, "admin update user", pathAdminUpdateUser+url.PathEscape(id), ScopeAdmin, patch, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

func (c *Client) AdminDeleteUser(ctx context.Context, id string) error {
	return c.delete(ctx, "admin delete user", pathAdminUsers+"/"+url.PathEscape(id), ScopeAdmin, nil)
}
