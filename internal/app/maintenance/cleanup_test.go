package maintenance

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/require"

	"github.com/glotta/registrar/internal/cache"
	testutil "github.com/glotta/registrar/internal/database/testutil"
	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/models"
	"github.com/glotta/registrar/internal/services"
)

type noopIdentity struct{}

func (noopIdentity) SignUp(context.Context, string, string, map[string]any) (*identity.SignUpResult, error) {
	return nil, identity.ErrUserNotFound
}

func (noopIdentity) SignIn(context.Context, string, string) (*identity.Session, error) {
	return nil, identity.ErrUserNotFound
}

func (noopIdentity) GetSession(context.Context) (*identity.Session, error) { return nil, nil }

func (noopIdentity) CurrentUser(context.Context) (*identity.User, error) {
	return nil, identity.ErrSessionMissing
}

func (noopIdentity) ResendVerification(context.Context, string) error { return nil }

func (noopIdentity) GetUser(context.Context, string) (*identity.User, error) {
	return nil, identity.ErrUserNotFound
}

func (noopIdentity) GetUserByEmail(context.Context, string) (*identity.User, error) {
	return nil, identity.ErrUserNotFound
}

func (noopIdentity) DeleteUser(context.Context, string) error { return nil }

func TestCleanerRunOnce(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	now := time.Now()

	store := cache.NewDatabaseStore(db)
	limiter, err := services.NewRateLimiter(store, services.DefaultRateTiers())
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleanupSvc, err := services.NewCleanupService(db, noopIdentity{}, limiter, auditSvc, nil)
	require.NoError(t, err)

	// Expired and live recovery codes.
	require.NoError(t, db.Create(&models.VerificationCode{
		EmailHash: "hash-expired",
		CodeHash:  "code-expired",
		CodeSalt:  "salt",
		ExpiresAt: now.Add(-time.Minute),
	}).Error)
	require.NoError(t, db.Create(&models.VerificationCode{
		EmailHash: "hash-live",
		CodeHash:  "code-live",
		CodeSalt:  "salt",
		ExpiresAt: now.Add(time.Minute),
	}).Error)

	// A completed cleanup entry older than the retention window.
	oldEntry := models.CleanupLogEntry{
		Email:         "stale@example.com",
		EmailHash:     "hash-stale",
		CleanupReason: "user_requested",
		CleanupStatus: "completed",
	}
	require.NoError(t, db.Create(&oldEntry).Error)
	require.NoError(t, db.Model(&oldEntry).Update("created_at", now.AddDate(0, 0, -30)).Error)

	// A stale rate-limit counter.
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "ratelimit:ip:stale",
		Value:     []byte("4"),
		ExpiresAt: now.Add(-time.Minute),
	}).Error)

	// An old audit record.
	require.NoError(t, auditSvc.Log(context.Background(), services.AuditEntry{
		Action: "identity.cleanup",
		Result: "success",
	}))
	var auditLog models.AuditLog
	require.NoError(t, db.First(&auditLog).Error)
	require.NoError(t, db.Model(&auditLog).Update("created_at", now.AddDate(0, 0, -30)).Error)

	c := NewCleaner(cleanupSvc, store, auditSvc,
		WithCodeRetentionDays(7),
		WithAuditRetentionDays(7),
		WithCron(cron.New(cron.WithLogger(cron.DiscardLogger))),
	)

	require.NoError(t, c.RunOnce(context.Background()))

	var codes []models.VerificationCode
	require.NoError(t, db.Find(&codes).Error)
	require.Len(t, codes, 1)
	require.Equal(t, "hash-live", codes[0].EmailHash)

	var entryCount int64
	require.NoError(t, db.Model(&models.CleanupLogEntry{}).Count(&entryCount).Error)
	require.Equal(t, int64(0), entryCount)

	var counterCount int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&counterCount).Error)
	require.Equal(t, int64(0), counterCount)

	var auditCount int64
	require.NoError(t, db.Model(&models.AuditLog{}).Count(&auditCount).Error)
	require.Equal(t, int64(0), auditCount)
}

func TestCleanerStartRegistersJobs(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	store := cache.NewDatabaseStore(db)
	limiter, err := services.NewRateLimiter(store, services.DefaultRateTiers())
	require.NoError(t, err)

	auditSvc, err := services.NewAuditService(db)
	require.NoError(t, err)

	cleanupSvc, err := services.NewCleanupService(db, noopIdentity{}, limiter, auditSvc, nil)
	require.NoError(t, err)

	sched := cron.New(cron.WithLogger(cron.DiscardLogger))
	c := NewCleaner(cleanupSvc, store, auditSvc, WithCron(sched))

	require.NoError(t, c.Start())
	require.Len(t, sched.Entries(), 4)

	<-c.Stop().Done()
}

func TestCleanerDisabledWithoutDependencies(t *testing.T) {
	c := NewCleaner(nil, nil, nil)
	require.NoError(t, c.Start())
	require.NoError(t, c.RunOnce(context.Background()))
}
