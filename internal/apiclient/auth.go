package apiclient

import (
	"context"
	"encoding/json"

	"github.com/diagnosis/luxsuv-portal/internal/domain"
)

const (
	pathLogin       = "/api/auth/login"
	pathSignup      = "/api/auth/signup"
	pathUserData    = "/api/auth/getuserdata"
	pathCheckNumber = "/api/auth/check-number"
	pathSendOTP     = "/api/auth/send-otp"
	pathVerifyOTP   = "/api/auth/verify-otp"
)

type LoginResponse struct {
	Success  bool   `json:"success"`
	Token    string `json:"token"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

func (c *Client) Login(ctx context.Context, creds domain.Credentials) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.post(ctx, "login", pathLogin, ScopeNone, creds, &out); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, &APIError{Op: "login", Status: 200, Message: "login response did not include a token"}
	}
	return &out, nil
}

type SignupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (c *Client) Signup(ctx context.Context, req domain.SignupRequest) (*SignupResponse, error) {
	var out SignupResponse
	if err := c.post(ctx, "signup", pathSignup, ScopeNone, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetUserData returns the profile behind the stored user token.
func (c *Client) GetUserData(ctx context.Context) (*domain.User, error) {
	var out struct {
		User domain.User `json:"user"`
	}
	if err := c.get(ctx, "get user data", pathUserData, ScopeUser, &out); err != nil {
		return nil, err
	}
	return &out.User, nil
}

// CheckNumberResponse tells whether a mobile number already has an identity.
type CheckNumberResponse struct {
	Exists bool             `json:"exists"`
	User   *domain.Identity `json:"user,omitempty"`
}

func (r *CheckNumberResponse) UnmarshalJSON(data []byte) error {
	var aux struct {
		Exists bool `json:"exists"`
		User   *struct {
			Name     string `json:"name"`
			UserName string `json:"userName"`
			Email    string `json:"email"`
			Mobile   string `json:"mobile"`
			Phone    string `json:"phoneNumber"`
		} `json:"user"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Exists = aux.Exists
	r.User = nil
	if aux.User != nil {
		id := &domain.Identity{Name: aux.User.Name, Email: aux.User.Email, Mobile: aux.User.Mobile}
		if id.Name == "" {
			id.Name = aux.User.UserName
		}
		if id.Mobile == "" {
			id.Mobile = aux.User.Phone
		}
		r.User = id
	}
	return nil
}

func (c *Client) CheckNumber(ctx context.Context, mobile string) (*CheckNumberResponse, error) {
	in := map[string]string{"mobile": mobile}
	var out CheckNumberResponse
	if err := c.post(ctx, "check number", pathCheckNumber, ScopeNone, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type SendOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	UserName    string `json:"userName"`
}

// SendOTP asks the backend to dispatch a code. Expiry and resend limits live
// entirely on the backend.
func (c *Client) SendOTP(ctx context.Context, req SendOTPRequest) error {
	return c.post(ctx, "send otp", pathSendOTP, ScopeNone, req, nil)
}

type VerifyOTPRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	OTP         string `json:"otp"`
}

type VerifyOTPResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

func (c *Client) VerifyOTP(ctx context.Context, req VerifyOTPRequest) (*VerifyOTPResponse, error) {
	var out VerifyOTPResponse
	if err := c.post(ctx, "verify otp", pathVerifyOTP, ScopeNone, req, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, &APIError{Op: "verify otp", Status: 200, Message: out.Message}
	}
	return &out, nil
}
