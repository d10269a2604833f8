// Package store persists verification tokens and performs their atomic
// state transitions. All cross-request coordination lives in the database:
// issuing supersedes the previous active token inside one transaction, and
// consumption is decided by a conditional update's affected-row count.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailverify-backend/shared/database/models/auth"
	utils "mailverify-backend/shared/utils/auth"
)

// Token validation failures. Callers dispatch on these with errors.Is and
// decide how much detail reaches the user.
var (
	ErrNotFound        = errors.New("token not found")
	ErrExpired         = errors.New("token expired")
	ErrAlreadyUsed     = errors.New("token already used")
	ErrInvalidated     = errors.New("token invalidated")
	ErrTooManyAttempts = errors.New("token attempt limit reached")
)

// StorageError wraps database-level failures so callers can tell transient
// store trouble apart from token validation outcomes.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// IssueParams describes a token to be issued
type IssueParams struct {
	SubjectID    uuid.UUID
	TokenType    string
	TTL          time.Duration
	IssuedFromIP string
	MaxAttempts  int
	Metadata     map[string]string

	// TokenBytes is the entropy size of the secret; values below
	// MinTokenBytes are raised to it.
	TokenBytes int
}

// TokenStore persists verification tokens
type TokenStore struct {
	db *gorm.DB

	// Now is injectable for expiry-boundary tests
	Now func() time.Time
}

// NewTokenStore creates a token store on top of the given database
func NewTokenStore(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db, Now: time.Now}
}

// Issue invalidates the currently active token for (subject, type) and
// inserts the replacement inside a single transaction, so at most one token
// per pair is ever active. The returned secret is available only here; the
// store keeps its SHA-256 hash.
func (s *TokenStore) Issue(ctx context.Context, p IssueParams) (string, *auth.VerificationToken, error) {
	tokenBytes := p.TokenBytes
	if tokenBytes < utils.MinTokenBytes {
		tokenBytes = utils.MinTokenBytes
	}

	secret, err := utils.GenerateToken(tokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.Now().UTC()
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}

	token := &auth.VerificationToken{
		SubjectID:    p.SubjectID,
		TokenHash:    utils.HashToken(secret),
		TokenType:    p.TokenType,
		IssuedAt:     now,
		ExpiresAt:    now.Add(p.TTL),
		IssuedFromIP: p.IssuedFromIP,
		MaxAttempts:  maxAttempts,
		Metadata:     p.Metadata,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&auth.VerificationToken{}).
			Where("subject_id = ? AND token_type = ? AND used_at IS NULL AND invalidated_at IS NULL",
				p.SubjectID, p.TokenType).
			Update("invalidated_at", now).Error; err != nil {
			return err
		}

		return tx.Create(token).Error
	})
	if err != nil {
		return "", nil, storageErr("issue", err)
	}

	return secret, token, nil
}

// Consume validates a presented secret and marks its token used. The final
// write is conditional on used_at still being NULL; when two consumers race,
// the affected-row count lets exactly one of them win and the loser sees
// ErrAlreadyUsed.
func (s *TokenStore) Consume(ctx context.Context, secret string) (uuid.UUID, error) {
	hash := utils.HashToken(secret)
	now := s.Now().UTC()

	var token auth.VerificationToken
	if err := s.db.WithContext(ctx).Where("token_hash = ?", hash).First(&token).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, storageErr("consume lookup", err)
	}

	if token.IsExpired(now) {
		s.bumpAttemptCount(ctx, token.ID)
		return uuid.Nil, ErrExpired
	}
	if token.IsUsed() {
		return uuid.Nil, ErrAlreadyUsed
	}
	if token.IsInvalidated() {
		s.bumpAttemptCount(ctx, token.ID)
		return uuid.Nil, ErrInvalidated
	}
	if token.AttemptCount >= token.MaxAttempts {
		return uuid.Nil, ErrTooManyAttempts
	}

	result := s.db.WithContext(ctx).Model(&auth.VerificationToken{}).
		Where("id = ? AND used_at IS NULL AND invalidated_at IS NULL", token.ID).
		Update("used_at", now)
	if result.Error != nil {
		return uuid.Nil, storageErr("consume update", result.Error)
	}
	if result.RowsAffected == 0 {
		// A concurrent consumer won the race
		return uuid.Nil, ErrAlreadyUsed
	}

	return token.SubjectID, nil
}

// bumpAttemptCount records a failed validation against the token. Best
// effort: a miss here never changes the validation outcome.
func (s *TokenStore) bumpAttemptCount(ctx context.Context, tokenID uuid.UUID) {
	s.db.WithContext(ctx).Model(&auth.VerificationToken{}).
		Where("id = ?", tokenID).
		Update("attempt_count", gorm.Expr("attempt_count + 1"))
}

// ActiveToken returns the currently active token for (subject, type), or
// ErrNotFound when none exists.
func (s *TokenStore) ActiveToken(ctx context.Context, subjectID uuid.UUID, tokenType string) (*auth.VerificationToken, error) {
	var token auth.VerificationToken
	err := s.db.WithContext(ctx).
		Where("subject_id = ? AND token_type = ? AND used_at IS NULL AND invalidated_at IS NULL",
			subjectID, tokenType).
		Order("issued_at DESC").
		First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageErr("active token lookup", err)
	}
	return &token, nil
}

// CountActiveWithinWindow counts tokens issued after windowStart for the
// subject, a read-only ranged query. The boundary is exclusive: a token
// issued exactly at windowStart is outside the window.
func (s *TokenStore) CountActiveWithinWindow(ctx context.Context, subjectID uuid.UUID, tokenType string, windowStart time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&auth.VerificationToken{}).
		Where("subject_id = ? AND token_type = ? AND issued_at > ?", subjectID, tokenType, windowStart).
		Count(&count).Error
	if err != nil {
		return 0, storageErr("window count", err)
	}
	return count, nil
}

// Revoke administratively invalidates the active token for (subject, type).
// Returns the number of tokens invalidated.
func (s *TokenStore) Revoke(ctx context.Context, subjectID uuid.UUID, tokenType string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&auth.VerificationToken{}).
		Where("subject_id = ? AND token_type = ? AND used_at IS NULL AND invalidated_at IS NULL",
			subjectID, tokenType).
		Update("invalidated_at", s.Now().UTC())
	if result.Error != nil {
		return 0, storageErr("revoke", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteExpiredBefore removes terminal and long-expired token rows. Storage
// hygiene only; validity is derived at read time and never depends on this.
func (s *TokenStore) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("expires_at < ? OR used_at < ? OR invalidated_at < ?", cutoff, cutoff, cutoff).
		Delete(&auth.VerificationToken{})
	if result.Error != nil {
		return 0, storageErr("cleanup", result.Error)
	}
	return result.RowsAffected, nil
}
