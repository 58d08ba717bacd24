package checkin

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestPreviewToken(t *testing.T) {
	exp := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":       "user@example.com",
		"bookingId": "b-42",
		"exp":       exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	p, err := PreviewToken(signed)
	if err != nil {
		t.Fatalf("PreviewToken: %v", err)
	}
	if p.BookingID != "b-42" {
		t.Fatalf("BookingID = %q, want b-42", p.BookingID)
	}
	if p.Subject != "user@example.com" {
		t.Fatalf("Subject = %q", p.Subject)
	}
	if !p.ExpiresAt.Equal(exp) {
		t.Fatalf("ExpiresAt = %v, want %v", p.ExpiresAt, exp)
	}
	if p.Expired(time.Now()) {
		t.Fatal("live token reported expired")
	}
	if !p.Expired(exp.Add(time.Second)) {
		t.Fatal("past token reported live")
	}
}

func TestPreviewToken_NotAToken(t *testing.T) {
	if _, err := PreviewToken("ROOM-7-FRONT-DESK"); !errors.Is(err, ErrNotAToken) {
		t.Fatalf("err = %v, want ErrNotAToken", err)
	}
}

func TestPreviewToken_NoExpiry(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"bookingId": "b-9"})
	signed, err := tok.SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	p, err := PreviewToken(signed)
	if err != nil {
		t.Fatalf("PreviewToken: %v", err)
	}
	if p.Expired(time.Now()) {
		t.Fatal("token without exp treated as expired")
	}
}
