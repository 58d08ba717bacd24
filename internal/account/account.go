// Package account drives email OTP verification and the first-login password
// change. These endpoints are unauthenticated: they run before the account has
// a usable session.
package account

import (
	"context"
	"errors"
	"strings"

	"secure-room-access/client/internal/api"
)

// verifiedMarker is the substring the server includes in the success message
// for a correct OTP. The message text is the contract; there is no flag field.
const verifiedMarker = "verified successfully"

// Strength labels for the client-side password meter. Display only: the
// server is the sole authority on password policy.
type Strength int

// Password strength levels.
const (
	StrengthWeak Strength = iota
	StrengthFair
	StrengthStrong
)

// String returns the label shown next to the password field.
func (s Strength) String() string {
	switch s {
	case StrengthFair:
		return "Fair"
	case StrengthStrong:
		return "Strong"
	default:
		return "Weak"
	}
}

// Service calls the OTP and account-setup endpoints.
type Service struct {
	client *api.Client
}

// NewService returns a Service over the given transport.
func NewService(client *api.Client) *Service {
	return &Service{client: client}
}

// SendOTP asks the server to email a one-time password to the address.
// Returns the server's status message.
func (s *Service) SendOTP(ctx context.Context, email string) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := s.client.PostJSON(ctx, api.RouteSendVerifyOTP, map[string]string{"email": email}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyOTP submits the OTP the user received. ok reports whether the server
// confirmed it; a wrong or expired OTP is a normal false outcome with the
// server message, not an error.
func (s *Service) VerifyOTP(ctx context.Context, email, otp string) (ok bool, message string, err error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := s.client.PostJSON(ctx, api.RouteVerifyOTP, map[string]string{"email": email, "otp": otp}, &out); err != nil {
		var apiErr *api.Error
		// Domain rejections come back with a message envelope; surface them as
		// a false outcome so the user can retry.
		if errors.As(err, &apiErr) {
			return false, apiErr.Message, nil
		}
		return false, "", err
	}
	return strings.Contains(out.Message, verifiedMarker), out.Message, nil
}

// ChangeInitialPassword sets the account's first real password after OTP
// verification during account setup.
func (s *Service) ChangeInitialPassword(ctx context.Context, email, newPassword string) error {
	body := map[string]string{"email": email, "newPassword": newPassword}
	return s.client.PostJSON(ctx, api.RouteChangeInitialPassword, body, nil)
}

// PasswordStrength scores a candidate password for the setup screen's meter.
// Purely cosmetic; submission always goes to the server regardless of score.
func PasswordStrength(password string) Strength {
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			symbol = true
		}
	}
	classes := 0
	for _, ok := range []bool{upper, lower, digit, symbol} {
		if ok {
			classes++
		}
	}
	switch {
	case len(password) >= 12 && classes == 4:
		return StrengthStrong
	case len(password) >= 8 && classes >= 3:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
