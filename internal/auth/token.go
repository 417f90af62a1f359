package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Expiry reads the exp claim from a JWT without verifying its signature.
// The client has no signing key; verification is the server's job, this
// is only used to decide whether a stored token is worth presenting.
func Expiry(token string) (time.Time, error) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("read exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, nil // no expiry claim, token never expires
	}
	return exp.Time, nil
}

// ExpiresWithin reports whether the token expires inside the given window.
// Malformed tokens count as expired.
func ExpiresWithin(token string, window time.Duration) bool {
	exp, err := Expiry(token)
	if err != nil {
		return true
	}
	if exp.IsZero() {
		return false
	}
	return time.Until(exp) < window
}
