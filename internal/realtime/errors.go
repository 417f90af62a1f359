package realtime

import "errors"

// Error codes surfaced through events.
const (
	ErrCodeAuthFailed     = "auth_failed"
	ErrCodeNotConnected   = "not_connected"
	ErrCodeDeliveryFailed = "delivery_failed"
	ErrCodeTransport      = "transport_error"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrNoCredential = errors.New("no session credential")
	ErrClosed       = errors.New("manager closed")
)

// Error wraps a code and human-readable message for event consumers.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// AuthError marks a handshake rejection caused by an invalid or expired
// credential. It must not be retried blindly; re-authentication is required.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return "authentication rejected"
	}
	return "authentication rejected: " + e.Reason
}
