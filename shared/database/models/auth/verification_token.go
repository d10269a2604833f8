package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Token types. One active token per (subject, type) at a time.
const (
	TokenTypeEmailVerification = "email_verification"
	TokenTypePasswordReset     = "password_reset"
)

// VerificationToken - Single-use verification tokens. Only the SHA-256 hash
// of the secret is stored; the raw value exists just long enough to be mailed.
type VerificationToken struct {
	ID            uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	SubjectID     uuid.UUID         `json:"subject_id" gorm:"type:uuid;not null;index:idx_tokens_subject_type"`
	TokenHash     string            `json:"-" gorm:"size:64;uniqueIndex;not null"`
	TokenType     string            `json:"token_type" gorm:"size:32;not null;index:idx_tokens_subject_type"`
	IssuedAt      time.Time         `json:"issued_at" gorm:"not null;index"`
	ExpiresAt     time.Time         `json:"expires_at" gorm:"not null"`
	UsedAt        *time.Time        `json:"used_at"`
	InvalidatedAt *time.Time        `json:"invalidated_at"`
	IssuedFromIP  string            `json:"issued_from_ip" gorm:"size:45"`
	AttemptCount  int               `json:"attempt_count" gorm:"default:0"`
	MaxAttempts   int               `json:"max_attempts" gorm:"default:5"`
	Metadata      map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// BeforeCreate will set ID if not set
func (t *VerificationToken) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// IsUsed reports whether the token was consumed
func (t *VerificationToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsInvalidated reports whether the token was superseded or revoked
func (t *VerificationToken) IsInvalidated() bool {
	return t.InvalidatedAt != nil
}

// IsExpired reports whether the token is past its lifetime at the given
// instant. Expiry is exclusive: a token expiring exactly now is expired.
func (t *VerificationToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsValid is the derived validity predicate. Expiry is never written back to
// the row, so validity does not depend on any background sweep.
func (t *VerificationToken) IsValid(now time.Time) bool {
	return !t.IsUsed() && !t.IsInvalidated() && !t.IsExpired(now) && t.AttemptCount < t.MaxAttempts
}
