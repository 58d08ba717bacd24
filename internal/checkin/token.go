package checkin

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNotAToken means the scanned payload is not a JWT. The flow still sends
// it to the server for verification; the preview is best effort only.
var ErrNotAToken = errors.New("checkin: scanned payload is not a token")

// TokenPreview is the claim subset decoded locally from a scanned check-in
// token. The signature is NOT checked here. Only the server's verdict on the
// token decides anything; the preview exists for display and logging.
type TokenPreview struct {
	BookingID string
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the token's exp claim has passed. Tokens without
// an exp claim are treated as live.
func (p TokenPreview) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && p.ExpiresAt.Before(now)
}

// PreviewToken decodes the scanned payload without verifying its signature.
func PreviewToken(payload string) (TokenPreview, error) {
	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(payload, &claims); err != nil {
		return TokenPreview{}, ErrNotAToken
	}
	var p TokenPreview
	if v, ok := claims["bookingId"].(string); ok {
		p.BookingID = v
	}
	if sub, err := claims.GetSubject(); err == nil {
		p.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		p.ExpiresAt = exp.Time
	}
	return p, nil
}
