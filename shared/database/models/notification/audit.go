package notification

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Audit actions recorded for the verification flows.
const (
	ActionTokenCreated        = "token_created"
	ActionVerificationAttempt = "verification_attempt"
	ActionVerificationSuccess = "verification_success"
	ActionVerificationFailed  = "verification_failed"
	ActionResendRequested     = "resend_requested"
	ActionResendBlocked       = "resend_blocked"
	ActionTokenRevoked        = "token_revoked"
	ActionMailDeliveryFailed  = "mail_delivery_failed"
)

// AuditLog represents an append-only audit log entry. Rows are never updated
// or deleted by the service; free-text fields are sanitized before insert.
type AuditLog struct {
	ID           uuid.UUID         `json:"id" gorm:"type:uuid;primary_key"`
	SubjectID    *uuid.UUID        `json:"subject_id,omitempty" gorm:"type:uuid;index"`
	Action       string            `json:"action" gorm:"type:varchar(50);not null;index"`
	TokenID      *uuid.UUID        `json:"token_id,omitempty" gorm:"type:uuid;index"`
	SourceIP     string            `json:"source_ip" gorm:"type:varchar(45)"`
	UserAgent    string            `json:"user_agent" gorm:"type:varchar(500)"`
	Details      map[string]string `json:"details,omitempty" gorm:"serializer:json"`
	Success      bool              `json:"success" gorm:"not null"`
	ErrorMessage string            `json:"error_message,omitempty" gorm:"type:varchar(500)"`
	CreatedAt    time.Time         `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName returns the table name for AuditLog
func (AuditLog) TableName() string {
	return "verification_audit_logs"
}

// BeforeCreate will set ID if not set
func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
