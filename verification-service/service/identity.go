package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"mailverify-backend/shared/database/models"
)

// IdentityStore is the narrow view of the user records the verification
// service needs. It owns neither passwords nor sessions.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	MarkConfirmed(ctx context.Context, subjectID uuid.UUID, at time.Time) error
}

// GormIdentityStore implements IdentityStore on the shared users table
type GormIdentityStore struct {
	db *gorm.DB
}

// NewGormIdentityStore creates an identity store on the given database
func NewGormIdentityStore(db *gorm.DB) *GormIdentityStore {
	return &GormIdentityStore{db: db}
}

// FindByEmail returns ErrUserNotFound when no subject has the email
func (s *GormIdentityStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// MarkConfirmed sets the confirmation field once. Re-confirming an already
// confirmed subject is a no-op, which keeps Complete retries idempotent.
func (s *GormIdentityStore) MarkConfirmed(ctx context.Context, subjectID uuid.UUID, at time.Time) error {
	return s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND email_verified = ?", subjectID, false).
		Updates(map[string]interface{}{
			"email_verified":    true,
			"email_verified_at": at,
		}).Error
}
