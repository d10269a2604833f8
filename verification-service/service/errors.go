package service

import (
	"errors"
	"fmt"
	"time"
)

// Closed error taxonomy for the verification operations. Handlers dispatch
// on these with errors.Is / errors.As, never on message text.
var (
	// ErrInvalidFormat rejects malformed email or token input before any I/O
	ErrInvalidFormat = errors.New("invalid input format")

	// ErrUserNotFound - no subject exists for the given email
	ErrUserNotFound = errors.New("user not found")

	// ErrAlreadyVerified - the subject's email is already confirmed
	ErrAlreadyVerified = errors.New("email already verified")

	// ErrInvalidToken is the single outward-facing failure for Complete. It
	// deliberately collapses not-found, expired, already-used, invalidated
	// and malformed tokens so responses cannot be used as a token oracle.
	ErrInvalidToken = errors.New("invalid or expired verification token")
)

// RateLimitedError reports a denied resend along with when to retry
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// MailDeliveryError reports a failed delivery attempt. The issued token
// stays valid; only the delivery failed.
type MailDeliveryError struct {
	Err error
}

func (e *MailDeliveryError) Error() string {
	return fmt.Sprintf("mail delivery failed: %v", e.Err)
}

func (e *MailDeliveryError) Unwrap() error {
	return e.Err
}
