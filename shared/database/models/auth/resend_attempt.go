package auth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResendAttempt - One row per admitted resend request, the unit the
// sliding-window limiter counts. Successful is flipped to false when mail
// delivery fails so the attempt stops counting against the budget.
type ResendAttempt struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	SubjectID  uuid.UUID `json:"subject_id" gorm:"type:uuid;not null;index:idx_resend_subject_created"`
	TokenType  string    `json:"token_type" gorm:"size:32;not null"`
	Email      string    `json:"email" gorm:"size:255;not null"`
	IPAddress  string    `json:"ip_address" gorm:"size:45"`
	Successful bool      `json:"successful" gorm:"default:true"`
	CreatedAt  time.Time `json:"created_at" gorm:"not null;index:idx_resend_subject_created"`
}

// BeforeCreate will set ID if not set
func (a *ResendAttempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
