package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/models"
	"github.com/glotta/registrar/pkg/logger"
	"github.com/glotta/registrar/pkg/metrics"
)

// Orphan classifications. A verified orphan can proceed to cleanup directly;
// an unverified orphan must confirm the address or request a fresh code first.
const (
	OrphanClassificationVerified   = "verified_orphan"
	OrphanClassificationUnverified = "unverified_orphan"
)

const (
	defaultOrphanMaxAttempts = 3
	defaultOrphanBudget      = 2 * time.Second
	defaultOrphanRetryDelay  = 150 * time.Millisecond
)

// OrphanReport is the detector's verdict for one user.
type OrphanReport struct {
	IsOrphaned     bool   `json:"is_orphaned"`
	Classification string `json:"classification,omitempty"`

	AttemptCount    int   `json:"attempt_count"`
	TotalDurationMs int64 `json:"total_duration_ms"`
}

// OrphanOption customises the OrphanService.
type OrphanOption func(*OrphanService)

// WithOrphanBudget overrides the latency budget for one detection run.
func WithOrphanBudget(d time.Duration) OrphanOption {
	return func(s *OrphanService) {
		if d > 0 {
			s.budget = d
		}
	}
}

// WithOrphanMaxAttempts overrides the attempt bound.
func WithOrphanMaxAttempts(n int) OrphanOption {
	return func(s *OrphanService) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithOrphanRetryDelay overrides the pause between attempts.
func WithOrphanRetryDelay(d time.Duration) OrphanOption {
	return func(s *OrphanService) {
		if d >= 0 {
			s.retryDelay = d
		}
	}
}

// WithOrphanClock injects a custom time source.
func WithOrphanClock(clock func() time.Time) OrphanOption {
	return func(s *OrphanService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// OrphanService detects users who authenticated but hold no company
// membership. It runs synchronously in the login critical path, so it is
// bounded by a small attempt count and a latency budget; exceeding either
// fails open (not orphaned) rather than blocking login.
type OrphanService struct {
	db       *gorm.DB
	provider identity.Client
	log      *zap.Logger

	maxAttempts int
	budget      time.Duration
	retryDelay  time.Duration
	now         func() time.Time
}

// NewOrphanService constructs an OrphanService.
func NewOrphanService(db *gorm.DB, provider identity.Client, opts ...OrphanOption) (*OrphanService, error) {
	if db == nil {
		return nil, errors.New("orphan service: db is required")
	}
	if provider == nil {
		return nil, errors.New("orphan service: identity client is required")
	}

	service := &OrphanService{
		db:          db,
		provider:    provider,
		log:         logger.WithModule("orphan"),
		maxAttempts: defaultOrphanMaxAttempts,
		budget:      defaultOrphanBudget,
		retryDelay:  defaultOrphanRetryDelay,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// Check classifies the user. It never returns an error for transient
// failures: once the attempt or latency bound is hit the user is reported as
// not orphaned and the anomaly is logged.
func (s *OrphanService) Check(ctx context.Context, userID string) (*OrphanReport, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("orphan service: user id is required")
	}

	start := s.now()
	deadline := start.Add(s.budget)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	report := &OrphanReport{}
	var lastErr error
	for report.AttemptCount < s.maxAttempts {
		report.AttemptCount++

		verdict, err := s.attempt(ctx, userID)
		if err == nil {
			report.IsOrphaned = verdict.IsOrphaned
			report.Classification = verdict.Classification
			report.TotalDurationMs = s.now().Sub(start).Milliseconds()

			label := "none"
			if verdict.IsOrphaned {
				label = verdict.Classification
			}
			metrics.OrphanChecks.WithLabelValues(label).Inc()
			return report, nil
		}
		lastErr = err

		if ctx.Err() != nil || !s.now().Add(s.retryDelay).Before(deadline) {
			break
		}
		select {
		case <-time.After(s.retryDelay):
		case <-ctx.Done():
		}
	}

	// Bounds exhausted: fail open so login is never blocked on detection.
	report.IsOrphaned = false
	report.Classification = ""
	report.TotalDurationMs = s.now().Sub(start).Milliseconds()
	metrics.OrphanChecks.WithLabelValues("fail_open").Inc()
	s.log.Warn("orphan detection failed open",
		zap.String("user_id", userID),
		zap.Int("attempts", report.AttemptCount),
		zap.Int64("duration_ms", report.TotalDurationMs),
		zap.Error(lastErr),
	)
	return report, nil
}

func (s *OrphanService) attempt(ctx context.Context, userID string) (*OrphanReport, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.CompanyMembership{}).
		Where("user_id = ?", userID).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return &OrphanReport{IsOrphaned: false}, nil
	}

	user, err := s.provider.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			// No identity and no membership: nothing to recover.
			return &OrphanReport{IsOrphaned: false}, nil
		}
		return nil, err
	}

	classification := OrphanClassificationUnverified
	if user.EmailConfirmedAt != nil {
		classification = OrphanClassificationVerified
	}
	return &OrphanReport{IsOrphaned: true, Classification: classification}, nil
}
