package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"mailverify-backend/shared/database"
	"mailverify-backend/shared/database/models/auth"
)

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := database.Connect(":memory:")
	require.NoError(t, err, "failed to open test database")

	// The in-memory database exists per connection; pin the pool to one so
	// every goroutine sees the same data.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))
	return db
}

func issueParams(subjectID uuid.UUID, ttl time.Duration) IssueParams {
	return IssueParams{
		SubjectID:   subjectID,
		TokenType:   auth.TokenTypeEmailVerification,
		TTL:         ttl,
		MaxAttempts: 5,
	}
}

func TestIssue_ReturnsSecretAndStoresOnlyHash(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	secret, token, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, secret)
	require.NotNil(t, token)

	var stored auth.VerificationToken
	require.NoError(t, db.First(&stored, "id = ?", token.ID).Error)

	assert.NotEqual(t, secret, stored.TokenHash)
	assert.Len(t, stored.TokenHash, 64)
	assert.Nil(t, stored.UsedAt)
	assert.Nil(t, stored.InvalidatedAt)
}

func TestIssue_InvalidatesPreviousActiveToken(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	_, first, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)
	_, second, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	var stored auth.VerificationToken
	require.NoError(t, db.First(&stored, "id = ?", first.ID).Error)
	assert.NotNil(t, stored.InvalidatedAt, "superseded token must be invalidated")

	// Single active token invariant
	var activeCount int64
	require.NoError(t, db.Model(&auth.VerificationToken{}).
		Where("subject_id = ? AND token_type = ? AND used_at IS NULL AND invalidated_at IS NULL",
			subjectID, auth.TokenTypeEmailVerification).
		Count(&activeCount).Error)
	assert.EqualValues(t, 1, activeCount)

	active, err := st.ActiveToken(ctx, subjectID, auth.TokenTypeEmailVerification)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)
}

func TestIssue_DifferentTokenTypesDoNotInterfere(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	_, verification, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	reset := issueParams(subjectID, time.Hour)
	reset.TokenType = auth.TokenTypePasswordReset
	_, _, err = st.Issue(ctx, reset)
	require.NoError(t, err)

	var stored auth.VerificationToken
	require.NoError(t, db.First(&stored, "id = ?", verification.ID).Error)
	assert.Nil(t, stored.InvalidatedAt, "a password reset token must not supersede a verification token")
}

func TestConsume_Success(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	secret, token, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	got, err := st.Consume(ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, subjectID, got)

	var stored auth.VerificationToken
	require.NoError(t, db.First(&stored, "id = ?", token.ID).Error)
	assert.NotNil(t, stored.UsedAt)
}

func TestConsume_SecondAttemptReportsAlreadyUsed(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	secret, _, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	_, err = st.Consume(ctx, secret)
	require.NoError(t, err)

	_, err = st.Consume(ctx, secret)
	assert.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestConsume_UnknownToken(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)

	_, err := st.Consume(context.Background(), "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConsume_ExpiryBoundaryIsExclusive(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	st.Now = func() time.Time { return now }

	secret, token, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	// Exactly at expires_at: expired
	now = base.Add(time.Hour)
	_, err = st.Consume(ctx, secret)
	assert.ErrorIs(t, err, ErrExpired)

	var stored auth.VerificationToken
	require.NoError(t, db.First(&stored, "id = ?", token.ID).Error)
	assert.Equal(t, 1, stored.AttemptCount, "failed validation must count against the token")

	// One millisecond before expiry: still valid
	secret2, _, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	now = base.Add(2*time.Hour - time.Millisecond)
	_, err = st.Consume(ctx, secret2)
	assert.NoError(t, err)
}

func TestConsume_SupersededTokenIsInvalidated(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	oldSecret, _, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)
	newSecret, _, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	_, err = st.Consume(ctx, oldSecret)
	assert.ErrorIs(t, err, ErrInvalidated)

	_, err = st.Consume(ctx, newSecret)
	assert.NoError(t, err)
}

func TestConsume_ConcurrentCallsExactlyOneWins(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	secret, _, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	const callers = 8
	results := make([]error, callers)
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = st.Consume(ctx, secret)
		}(i)
	}
	wg.Wait()

	successes := 0
	alreadyUsed := 0
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrAlreadyUsed):
			alreadyUsed++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, successes, "exactly one concurrent consumer must win")
	assert.Equal(t, callers-1, alreadyUsed)
}

func TestConsume_AttemptLimitMakesTokenUnusable(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	secret, token, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	require.NoError(t, db.Model(&auth.VerificationToken{}).
		Where("id = ?", token.ID).
		Update("attempt_count", token.MaxAttempts).Error)

	_, err = st.Consume(ctx, secret)
	assert.ErrorIs(t, err, ErrTooManyAttempts)
}

func TestRevoke_InvalidatesActiveToken(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	secret, _, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	revoked, err := st.Revoke(ctx, subjectID, auth.TokenTypeEmailVerification)
	require.NoError(t, err)
	assert.EqualValues(t, 1, revoked)

	_, err = st.Consume(ctx, secret)
	assert.ErrorIs(t, err, ErrInvalidated)
}

func TestCountActiveWithinWindow_BoundaryIsExclusive(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()
	subjectID := uuid.New()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return base }

	_, _, err := st.Issue(ctx, issueParams(subjectID, time.Hour))
	require.NoError(t, err)

	// issued_at == windowStart falls outside the half-open window
	count, err := st.CountActiveWithinWindow(ctx, subjectID, auth.TokenTypeEmailVerification, base)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	count, err = st.CountActiveWithinWindow(ctx, subjectID, auth.TokenTypeEmailVerification, base.Add(-time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDeleteExpiredBefore_RemovesOnlyOldRows(t *testing.T) {
	db := setupTestDB(t)
	st := NewTokenStore(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	st.Now = func() time.Time { return base }

	_, old, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	st.Now = func() time.Time { return base.AddDate(0, 0, 40) }
	_, fresh, err := st.Issue(ctx, issueParams(uuid.New(), time.Hour))
	require.NoError(t, err)

	deleted, err := st.DeleteExpiredBefore(ctx, base.AddDate(0, 0, 30))
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	var count int64
	require.NoError(t, db.Model(&auth.VerificationToken{}).Where("id = ?", old.ID).Count(&count).Error)
	assert.EqualValues(t, 0, count)
	require.NoError(t, db.Model(&auth.VerificationToken{}).Where("id = ?", fresh.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}
