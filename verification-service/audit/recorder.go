// Package audit writes the append-only trail of verification activity.
// Recording never fails the caller's primary operation: a write failure is
// logged and counted, and the verification outcome stands.
package audit

import (
	"context"
	"log"
	"sync/atomic"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailverify-backend/shared/database/models/notification"
	"mailverify-backend/shared/utils/sanitize"
)

// Entry is one audit event. Free-text fields are sanitized on record; raw
// token secrets must never be put here, only token IDs and hash prefixes.
type Entry struct {
	SubjectID    *uuid.UUID
	Action       string
	TokenID      *uuid.UUID
	SourceIP     string
	UserAgent    string
	Details      map[string]string
	Success      bool
	ErrorMessage string
}

// Recorder persists audit entries
type Recorder struct {
	db       *gorm.DB
	failures atomic.Int64
}

// NewRecorder creates an audit recorder
func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record writes one entry. Errors are absorbed: they are logged, counted and
// otherwise invisible to the caller.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	row := notification.AuditLog{
		SubjectID:    e.SubjectID,
		Action:       e.Action,
		TokenID:      e.TokenID,
		SourceIP:     sanitize.Field(e.SourceIP),
		UserAgent:    sanitize.Field(e.UserAgent),
		Details:      sanitize.Map(e.Details),
		Success:      e.Success,
		ErrorMessage: sanitize.Field(e.ErrorMessage),
	}

	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		r.failures.Add(1)
		log.Printf("audit write failed (action=%s): %v", e.Action, err)
	}
}

// Failures returns how many audit writes have been dropped since startup,
// for monitoring.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}
