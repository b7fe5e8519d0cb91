package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glotta/registrar/internal/database/testutil"
	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/models"
)

func TestOrphanCheckMemberIsNotOrphaned(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newStubIdentity()

	userID := uuid.NewString()
	company := models.Company{Name: "Acme", Email: "a@acme.example", TaxID: "FR-1", TaxCountryCode: "FR", AttemptID: uuid.NewString()}
	require.NoError(t, db.Create(&company).Error)
	require.NoError(t, db.Create(&models.CompanyMembership{CompanyID: company.ID, UserID: userID, Role: models.RoleOwner}).Error)

	service, err := NewOrphanService(db, provider)
	require.NoError(t, err)

	report, err := service.Check(context.Background(), userID)
	require.NoError(t, err)
	assert.False(t, report.IsOrphaned)
	assert.Empty(t, report.Classification)
	assert.Equal(t, 1, report.AttemptCount)
}

func TestOrphanCheckClassifiesByConfirmation(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newStubIdentity()

	verifiedID := uuid.NewString()
	provider.addUser(identity.User{ID: verifiedID, Email: "verified@x.com", EmailConfirmedAt: timePtr(time.Now())})

	unverifiedID := uuid.NewString()
	provider.addUser(identity.User{ID: unverifiedID, Email: "unverified@x.com"})

	service, err := NewOrphanService(db, provider)
	require.NoError(t, err)

	verified, err := service.Check(context.Background(), verifiedID)
	require.NoError(t, err)
	assert.True(t, verified.IsOrphaned)
	assert.Equal(t, OrphanClassificationVerified, verified.Classification)

	unverified, err := service.Check(context.Background(), unverifiedID)
	require.NoError(t, err)
	assert.True(t, unverified.IsOrphaned)
	assert.Equal(t, OrphanClassificationUnverified, unverified.Classification)
}

func TestOrphanCheckUnknownIdentityIsNotOrphaned(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service, err := NewOrphanService(db, newStubIdentity())
	require.NoError(t, err)

	report, err := service.Check(context.Background(), uuid.NewString())
	require.NoError(t, err)
	assert.False(t, report.IsOrphaned)
}

func TestOrphanCheckFailsOpenAfterBoundedAttempts(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newStubIdentity()
	provider.lookupErr = errors.New("provider down")

	service, err := NewOrphanService(db, provider,
		WithOrphanRetryDelay(time.Millisecond),
		WithOrphanBudget(500*time.Millisecond),
	)
	require.NoError(t, err)

	report, err := service.Check(context.Background(), uuid.NewString())
	require.NoError(t, err)

	// Detection runs in the login critical path: when the provider is down
	// the verdict is "not orphaned" after at most three attempts, never an
	// error that would block login.
	assert.False(t, report.IsOrphaned)
	assert.Equal(t, 3, report.AttemptCount)
	assert.GreaterOrEqual(t, report.TotalDurationMs, int64(0))
}

func TestOrphanCheckHonorsLatencyBudget(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	provider := newStubIdentity()
	provider.lookupErr = errors.New("provider down")

	service, err := NewOrphanService(db, provider,
		WithOrphanBudget(5*time.Millisecond),
		WithOrphanRetryDelay(50*time.Millisecond),
	)
	require.NoError(t, err)

	start := time.Now()
	report, err := service.Check(context.Background(), uuid.NewString())
	require.NoError(t, err)

	assert.False(t, report.IsOrphaned)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, report.AttemptCount)
}

func TestOrphanCheckRequiresUserID(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	service, err := NewOrphanService(db, newStubIdentity())
	require.NoError(t, err)

	_, err = service.Check(context.Background(), "  ")
	require.Error(t, err)
}
