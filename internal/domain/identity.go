package domain

import (
	"regexp"
	"strings"
)

// Identity is the minimal profile attached to a booking.
type Identity struct {
	Mobile string `json:"mobile"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

var (
	mobileRegex = regexp.MustCompile(`^\d{10}$`)
	otpRegex    = regexp.MustCompile(`^\d{4,8}$`)
	emailRegex  = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

func NormalizeMobile(mobile string) string {
	return strings.TrimSpace(mobile)
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateMobile requires exactly ten digits.
func ValidateMobile(mobile string) error {
	var errs ValidationErrors
	mobile = NormalizeMobile(mobile)
	switch {
	case mobile == "":
		errs.add("mobile", "mobile number is required")
	case !mobileRegex.MatchString(mobile):
		errs.add("mobile", "mobile number must be exactly 10 digits")
	}
	return errs.errOrNil()
}

func ValidateOTP(otp string) error {
	var errs ValidationErrors
	otp = strings.TrimSpace(otp)
	switch {
	case otp == "":
		errs.add("otp", "OTP is required")
	case !otpRegex.MatchString(otp):
		errs.add("otp", "OTP must contain only digits")
	}
	return errs.errOrNil()
}

func IsValidEmail(email string) bool {
	return emailRegex.MatchString(NormalizeEmail(email))
}

func (i *Identity) Normalize() {
	i.Mobile = NormalizeMobile(i.Mobile)
	i.Name = strings.TrimSpace(i.Name)
	i.Email = NormalizeEmail(i.Email)
}

// Validate checks a fully collected identity (mobile, name and email).
func (i Identity) Validate() error {
	var errs ValidationErrors
	if err := ValidateMobile(i.Mobile); err != nil {
		errs = append(errs, err.(ValidationErrors)...)
	}
	if strings.TrimSpace(i.Name) == "" {
		errs.add("name", "name is required")
	}
	if strings.TrimSpace(i.Email) == "" {
		errs.add("email", "email is required")
	} else if !IsValidEmail(i.Email) {
		errs.add("email", "invalid email format")
	}
	return errs.errOrNil()
}
