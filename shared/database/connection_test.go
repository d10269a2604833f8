package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailverify-backend/shared/database/models"
	"mailverify-backend/shared/database/models/auth"
	"mailverify-backend/shared/database/models/notification"
)

// Migrate must work on SQLite unchanged, since every test suite and local
// development run uses it. Column defaults therefore cannot lean on
// Postgres-only functions; IDs come from the BeforeCreate hooks instead.
func TestMigrate_RunsOnSQLite(t *testing.T) {
	db, err := Connect(":memory:")
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))

	for _, table := range []string{"users", "verification_tokens", "resend_attempts", "verification_audit_logs"} {
		assert.True(t, db.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestCreate_HooksAssignIDs(t *testing.T) {
	db, err := Connect(":memory:")
	require.NoError(t, err, "failed to open test database")

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, Migrate(db))

	user := &models.User{Email: "u1@example.com", FirstName: "Ada"}
	require.NoError(t, db.Create(user).Error)
	assert.NotEqual(t, uuid.Nil, user.ID)

	token := &auth.VerificationToken{
		SubjectID:   user.ID,
		TokenHash:   "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
		TokenType:   auth.TokenTypeEmailVerification,
		IssuedAt:    time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(time.Hour),
		MaxAttempts: 5,
	}
	require.NoError(t, db.Create(token).Error)
	assert.NotEqual(t, uuid.Nil, token.ID)

	attempt := &auth.ResendAttempt{
		SubjectID: user.ID,
		TokenType: auth.TokenTypeEmailVerification,
		Email:     user.Email,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(attempt).Error)
	assert.NotEqual(t, uuid.Nil, attempt.ID)

	entry := &notification.AuditLog{Action: notification.ActionTokenCreated, Success: true}
	require.NoError(t, db.Create(entry).Error)
	assert.NotEqual(t, uuid.Nil, entry.ID)
}
