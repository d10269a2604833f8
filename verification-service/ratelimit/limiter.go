// Package ratelimit implements sliding-window admission control for resend
// requests. The window state is attempt rows in the database, not in-process
// counters, so limits hold across restarts and replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailverify-backend/shared/database/models/auth"
)

// Decision is the outcome of CheckAndReserve
type Decision struct {
	Allowed bool

	// Remaining attempts in the window after this reservation (when allowed)
	Remaining int

	// RetryAfter is how long until the oldest in-window attempt slides out
	// (when denied). Never negative.
	RetryAfter time.Duration

	// AttemptID identifies the reservation so it can be released if mail
	// delivery fails.
	AttemptID uuid.UUID
}

// Reservation describes an admission request
type Reservation struct {
	SubjectID uuid.UUID
	TokenType string
	Email     string
	IPAddress string
}

// Limiter admits at most Max resend attempts per subject within the trailing
// Window. The interval is half-open: an attempt timestamped exactly at
// now-Window no longer counts.
type Limiter struct {
	db     *gorm.DB
	Max    int
	Window time.Duration

	// Now is injectable for window-boundary tests
	Now func() time.Time
}

// NewLimiter creates a sliding-window limiter
func NewLimiter(db *gorm.DB, max int, window time.Duration) *Limiter {
	return &Limiter{db: db, Max: max, Window: window, Now: time.Now}
}

// CheckAndReserve counts in-window attempts for the subject and records a
// new one when the budget allows. The count and the insert are one
// conditional INSERT ... SELECT evaluated server-side, so two concurrent
// callers cannot both squeeze past the limit: the database decides, and the
// affected-row count reports the verdict.
func (l *Limiter) CheckAndReserve(ctx context.Context, r Reservation) (Decision, error) {
	now := l.Now().UTC()
	windowStart := now.Add(-l.Window)
	attemptID := uuid.New()

	result := l.db.WithContext(ctx).Exec(`
		INSERT INTO resend_attempts (id, subject_id, token_type, email, ip_address, successful, created_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE (
			SELECT COUNT(*) FROM resend_attempts
			WHERE subject_id = ? AND token_type = ? AND successful = ? AND created_at > ?
		) < ?`,
		attemptID, r.SubjectID, r.TokenType, r.Email, r.IPAddress, true, now,
		r.SubjectID, r.TokenType, true, windowStart,
		l.Max,
	)
	if result.Error != nil {
		return Decision{}, fmt.Errorf("rate limit reservation failed: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		retryAfter, err := l.retryAfter(ctx, r, now, windowStart)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	count, err := l.countInWindow(ctx, r, windowStart)
	if err != nil {
		return Decision{}, err
	}

	remaining := l.Max - int(count)
	if remaining < 0 {
		remaining = 0
	}

	return Decision{Allowed: true, Remaining: remaining, AttemptID: attemptID}, nil
}

// Release marks a reservation unsuccessful after a mail delivery failure, so
// the subject is not charged for an attempt that never reached them.
func (l *Limiter) Release(ctx context.Context, attemptID uuid.UUID) error {
	result := l.db.WithContext(ctx).Model(&auth.ResendAttempt{}).
		Where("id = ?", attemptID).
		Update("successful", false)
	if result.Error != nil {
		return fmt.Errorf("failed to release attempt %s: %w", attemptID, result.Error)
	}
	return nil
}

// DeleteAttemptsBefore removes attempt rows older than cutoff. Rows outside
// the window never influence decisions, so this is storage hygiene only.
func (l *Limiter) DeleteAttemptsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := l.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&auth.ResendAttempt{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func (l *Limiter) countInWindow(ctx context.Context, r Reservation, windowStart time.Time) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&auth.ResendAttempt{}).
		Where("subject_id = ? AND token_type = ? AND successful = ? AND created_at > ?",
			r.SubjectID, r.TokenType, true, windowStart).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count attempts: %w", err)
	}
	return count, nil
}

func (l *Limiter) retryAfter(ctx context.Context, r Reservation, now, windowStart time.Time) (time.Duration, error) {
	var oldest auth.ResendAttempt
	err := l.db.WithContext(ctx).
		Where("subject_id = ? AND token_type = ? AND successful = ? AND created_at > ?",
			r.SubjectID, r.TokenType, true, windowStart).
		Order("created_at ASC").
		First(&oldest).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// The window drained between the failed insert and this read
			return 0, nil
		}
		return 0, fmt.Errorf("failed to find oldest attempt: %w", err)
	}

	retryAfter := oldest.CreatedAt.Add(l.Window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return retryAfter, nil
}
