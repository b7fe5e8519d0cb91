package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/glotta/registrar/internal/cache"
	"github.com/glotta/registrar/pkg/crypto"
)

// Rate limit tier names, most specific last. Exceeding any tier
// short-circuits the request.
const (
	RateTierGlobal = "global"
	RateTierIP     = "ip"
	RateTierEmail  = "email"
)

// RateLimitTier is one threshold over a fixed window.
type RateLimitTier struct {
	Name   string
	Limit  int64
	Window time.Duration
}

// DefaultRateTiers returns the production thresholds.
func DefaultRateTiers() []RateLimitTier {
	return []RateLimitTier{
		{Name: RateTierGlobal, Limit: 1000, Window: time.Minute},
		{Name: RateTierIP, Limit: 5, Window: time.Minute},
		{Name: RateTierEmail, Limit: 3, Window: time.Hour},
	}
}

// RateDecision is the outcome of evaluating every tier for one request.
type RateDecision struct {
	Allowed    bool
	Tier       string // the tier that denied, empty when allowed
	Limit      int64
	Remaining  int64
	RetryAfter int // seconds, ceiling of the remaining window
}

// RateLimiter enforces layered request quotas backed by the shared cache
// store, so limits hold across instances sharing a database.
type RateLimiter struct {
	store cache.Store
	tiers []RateLimitTier
}

// NewRateLimiter constructs a limiter; nil tiers selects the defaults.
func NewRateLimiter(store cache.Store, tiers []RateLimitTier) (*RateLimiter, error) {
	if store == nil {
		return nil, errors.New("rate limiter: store is required")
	}
	if len(tiers) == 0 {
		tiers = DefaultRateTiers()
	}
	return &RateLimiter{store: store, tiers: tiers}, nil
}

// Allow evaluates every tier for one request. The email tier is skipped when
// the address is empty (e.g. liveness probes).
func (l *RateLimiter) Allow(ctx context.Context, ip, email string) (*RateDecision, error) {
	ctx = ensureContext(ctx)

	for _, tier := range l.tiers {
		key, ok := l.bucketKey(tier.Name, ip, email)
		if !ok {
			continue
		}

		count, remaining, err := l.store.IncrementWithTTL(ctx, key, tier.Window)
		if err != nil {
			return nil, fmt.Errorf("rate limiter: increment %s: %w", tier.Name, err)
		}

		if count > tier.Limit {
			retryAfter := int(math.Ceil(remaining.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			return &RateDecision{
				Allowed:    false,
				Tier:       tier.Name,
				Limit:      tier.Limit,
				Remaining:  0,
				RetryAfter: retryAfter,
			}, nil
		}
	}

	return &RateDecision{Allowed: true}, nil
}

func (l *RateLimiter) bucketKey(tier, ip, email string) (string, bool) {
	switch tier {
	case RateTierGlobal:
		return "ratelimit:global", true
	case RateTierIP:
		if ip == "" {
			return "", false
		}
		return "ratelimit:ip:" + crypto.HashIP(ip), true
	case RateTierEmail:
		if email == "" {
			return "", false
		}
		return "ratelimit:email:" + crypto.HashEmail(email), true
	default:
		return "", false
	}
}
