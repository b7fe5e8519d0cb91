package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glotta/registrar/internal/cache"
	"github.com/glotta/registrar/internal/database/testutil"
)

func newTestLimiter(t *testing.T, tiers []RateLimitTier) *RateLimiter {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	limiter, err := NewRateLimiter(cache.NewDatabaseStore(db), tiers)
	require.NoError(t, err)
	return limiter
}

func TestRateLimiterAllowsWithinQuota(t *testing.T) {
	limiter := newTestLimiter(t, nil)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(context.Background(), "203.0.113.1", "a@x.com")
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d", i+1)
	}
}

func TestRateLimiterDeniesPerEmailTier(t *testing.T) {
	limiter := newTestLimiter(t, nil)

	for i := 0; i < 3; i++ {
		decision, err := limiter.Allow(context.Background(), "", "a@x.com")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(context.Background(), "", "a@x.com")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RateTierEmail, decision.Tier)
	assert.Equal(t, int64(3), decision.Limit)
	assert.GreaterOrEqual(t, decision.RetryAfter, 1)
	assert.LessOrEqual(t, decision.RetryAfter, 3600)

	// Another address still has quota.
	fresh, err := limiter.Allow(context.Background(), "", "b@x.com")
	require.NoError(t, err)
	assert.True(t, fresh.Allowed)
}

func TestRateLimiterDeniesPerIPTier(t *testing.T) {
	limiter := newTestLimiter(t, nil)

	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(context.Background(), "203.0.113.2", "")
		require.NoError(t, err)
		require.True(t, decision.Allowed)
	}

	decision, err := limiter.Allow(context.Background(), "203.0.113.2", "")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, RateTierIP, decision.Tier)
	assert.LessOrEqual(t, decision.RetryAfter, 60)
}

func TestRateLimiterGlobalTierShortCircuits(t *testing.T) {
	tiers := []RateLimitTier{
		{Name: RateTierGlobal, Limit: 1, Window: time.Minute},
		{Name: RateTierIP, Limit: 100, Window: time.Minute},
	}
	limiter := newTestLimiter(t, tiers)

	first, err := limiter.Allow(context.Background(), "203.0.113.3", "")
	require.NoError(t, err)
	assert.True(t, first.Allowed)

	// A different IP is still denied once the global tier is exhausted.
	second, err := limiter.Allow(context.Background(), "203.0.113.4", "")
	require.NoError(t, err)
	assert.False(t, second.Allowed)
	assert.Equal(t, RateTierGlobal, second.Tier)
}

func TestRateLimiterSkipsEmailTierWhenAbsent(t *testing.T) {
	tiers := []RateLimitTier{{Name: RateTierEmail, Limit: 1, Window: time.Hour}}
	limiter := newTestLimiter(t, tiers)

	// No email means the tier never triggers.
	for i := 0; i < 5; i++ {
		decision, err := limiter.Allow(context.Background(), "203.0.113.5", "")
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}
