package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// User is an account as listed by the admin endpoints and getuserdata.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Mobile    string    `json:"mobile"`
	Role      string    `json:"role,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var aux struct {
		plain
		MongoID string `json:"_id"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*u = User(aux.plain)
	if u.ID == "" {
		u.ID = aux.MongoID
	}
	return nil
}

// UserPatch carries admin edits; nil fields are left untouched.
type UserPatch struct {
	Username *string `json:"username,omitempty"`
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Mobile   *string `json:"mobile,omitempty"`
}

func (p UserPatch) Empty() bool {
	return p.Username == nil && p.Name == nil && p.Email == nil && p.Mobile == nil
}

func (p UserPatch) Validate() error {
	var errs ValidationErrors
	if p.Empty() {
		errs.add("user", "nothing to update")
	}
	if p.Email != nil && !IsValidEmail(*p.Email) {
		errs.add("email", "invalid email format")
	}
	if p.Mobile != nil {
		if err := ValidateMobile(*p.Mobile); err != nil {
			errs = append(errs, err.(ValidationErrors)...)
		}
	}
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		errs.add("name", "name cannot be empty")
	}
	return errs.errOrNil()
}

// SignupRequest is the account registration form.
type SignupRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Mobile   string `json:"mobile"`
	Password string `json:"password"`
}

func (r *SignupRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Name = strings.TrimSpace(r.Name)
	r.Email = NormalizeEmail(r.Email)
	r.Mobile = NormalizeMobile(r.Mobile)
}

const MinPasswordLength = 6

func (r SignupRequest) Validate() error {
	var errs ValidationErrors
	if r.Username == "" {
		errs.add("username", "username is required")
	}
	if r.Name == "" {
		errs.add("name", "name is required")
	}
	if !IsValidEmail(r.Email) {
		errs.add("email", "invalid email format")
	}
	if err := ValidateMobile(r.Mobile); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	if len(r.Password) < MinPasswordLength {
		errs.add("password", "password must be at least 6 characters")
	}
	return errs.errOrNil()
}

// Credentials is an email/password login form.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c *Credentials) Normalize() {
	c.Email = NormalizeEmail(c.Email)
}

func (c Credentials) Validate() error {
	var errs ValidationErrors
	if c.Email == "" {
		errs.add("email", "email is required")
	} else if !IsValidEmail(c.Email) {
		errs.add("email", "invalid email format")
	}
	if c.Password == "" {
		errs.add("password", "password is required")
	}
	return errs.errOrNil()
}

// ContactMessage is the public contact form.
type ContactMessage struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Mobile  string `json:"mobile,omitempty"`
	Subject string `json:"subject,omitempty"`
	Message string `json:"message"`
}

func (m ContactMessage) Validate() error {
	var errs ValidationErrors
	if strings.TrimSpace(m.Name) == "" {
		errs.add("name", "name is required")
	}
	if !IsValidEmail(m.Email) {
		errs.add("email", "invalid email format")
	}
	if strings.TrimSpace(m.Message) == "" {
		errs.add("message", "message is required")
	}
	return errs.errOrNil()
}
