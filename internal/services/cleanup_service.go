package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/models"
	"github.com/glotta/registrar/pkg/crypto"
	"github.com/glotta/registrar/pkg/logger"
	"github.com/glotta/registrar/pkg/mail"
	"github.com/glotta/registrar/pkg/metrics"
)

const (
	defaultCleanupCodeExpiry = 5 * time.Minute
	defaultCleanupCodeDigits = 6
	defaultCleanupSaltBytes  = 16
)

// RateLimitedError denies a request that exceeded a quota tier. It carries
// the decision so transport layers can emit Retry-After headers.
type RateLimitedError struct {
	Decision RateDecision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("cleanup service: rate limited on %s tier, retry after %ds", e.Decision.Tier, e.Decision.RetryAfter)
}

// CleanupOption customises the CleanupService.
type CleanupOption func(*CleanupService)

// WithCleanupCodeExpiry overrides the code lifetime.
func WithCleanupCodeExpiry(d time.Duration) CleanupOption {
	return func(s *CleanupService) {
		if d > 0 {
			s.expiry = d
		}
	}
}

// WithCleanupCodeDigits overrides the code length.
func WithCleanupCodeDigits(n int) CleanupOption {
	return func(s *CleanupService) {
		if n > 0 {
			s.digits = n
		}
	}
}

// WithCleanupClock injects a custom time source.
func WithCleanupClock(clock func() time.Time) CleanupOption {
	return func(s *CleanupService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// CleanupService runs the two-step orphaned-account recovery exchange: issue
// a short-lived code to the address on record, then delete the identity only
// when the holder echoes the code back. Plaintext codes are never stored and
// a failed validation never reveals whether the code was wrong or expired.
type CleanupService struct {
	db       *gorm.DB
	provider identity.Client
	limiter  *RateLimiter
	audit    *AuditService
	mailer   mail.Mailer
	log      *zap.Logger

	expiry time.Duration
	digits int
	now    func() time.Time
}

// NewCleanupService constructs a CleanupService.
func NewCleanupService(db *gorm.DB, provider identity.Client, limiter *RateLimiter, audit *AuditService, mailer mail.Mailer, opts ...CleanupOption) (*CleanupService, error) {
	if db == nil {
		return nil, errors.New("cleanup service: db is required")
	}
	if provider == nil {
		return nil, errors.New("cleanup service: identity client is required")
	}
	if limiter == nil {
		return nil, errors.New("cleanup service: rate limiter is required")
	}

	service := &CleanupService{
		db:       db,
		provider: provider,
		limiter:  limiter,
		audit:    audit,
		mailer:   mailer,
		log:      logger.WithModule("cleanup"),
		expiry:   defaultCleanupCodeExpiry,
		digits:   defaultCleanupCodeDigits,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// RequestCodeInput identifies the account to recover.
type RequestCodeInput struct {
	Email         string
	Reason        string
	CorrelationID string
	IPAddress     string
}

// RequestCodeResult confirms issuance without leaking the code.
type RequestCodeResult struct {
	Issued           bool `json:"issued"`
	ExpiresInSeconds int  `json:"expires_in_seconds"`
}

// RequestCode issues a fresh recovery code for the address. Re-issuing for
// the same address invalidates the prior code. Rate limits are enforced
// across all three tiers before any work happens.
func (s *CleanupService) RequestCode(ctx context.Context, input RequestCodeInput) (*RequestCodeResult, error) {
	ctx = ensureContext(ctx)

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, errors.New("cleanup service: email is required")
	}
	reason := input.Reason
	if reason == "" {
		reason = models.CleanupReasonUserRequested
	}

	decision, err := s.limiter.Allow(ctx, input.IPAddress, email)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		metrics.CleanupOperations.WithLabelValues("issue", "rate_limited").Inc()
		return nil, &RateLimitedError{Decision: *decision}
	}

	code, err := crypto.GenerateNumericCode(s.digits)
	if err != nil {
		return nil, fmt.Errorf("cleanup service: generate code: %w", err)
	}
	salt, err := crypto.GenerateSalt(defaultCleanupSaltBytes)
	if err != nil {
		return nil, fmt.Errorf("cleanup service: generate salt: %w", err)
	}

	now := s.now()
	emailHash := crypto.HashEmail(email)
	record := models.VerificationCode{
		EmailHash:     emailHash,
		CodeHash:      crypto.HashWithSalt(code, salt),
		CodeSalt:      salt,
		CorrelationID: input.CorrelationID,
		ExpiresAt:     now.Add(s.expiry),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("email_hash = ?", emailHash).
			Delete(&models.VerificationCode{}).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("invalidate prior code: %w", err)
		}
		if err := tx.Create(&record).Error; err != nil {
			return fmt.Errorf("store code: %w", err)
		}

		entry := models.CleanupLogEntry{
			Email:         email,
			EmailHash:     emailHash,
			CleanupReason: reason,
			CleanupStatus: models.CleanupStatusPending,
			CodeIssuedAt:  &now,
			CorrelationID: input.CorrelationID,
		}
		if ip := strings.TrimSpace(input.IPAddress); ip != "" {
			entry.IPHash = crypto.HashIP(ip)
		}
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("record cleanup entry: %w", err)
		}
		return nil
	})
	if err != nil {
		metrics.CleanupOperations.WithLabelValues("issue", "failure").Inc()
		return nil, fmt.Errorf("cleanup service: %w", err)
	}

	if s.mailer != nil {
		message := mail.RecoveryCode(email, code, s.expiry)
		if mailErr := s.mailer.Send(ctx, message); mailErr != nil && !errors.Is(mailErr, mail.ErrSMTPDisabled) {
			metrics.CleanupOperations.WithLabelValues("issue", "failure").Inc()
			return nil, fmt.Errorf("cleanup service: send code: %w", mailErr)
		}
	}

	metrics.CleanupOperations.WithLabelValues("issue", "success").Inc()
	return &RequestCodeResult{
		Issued:           true,
		ExpiresInSeconds: int(s.expiry.Seconds()),
	}, nil
}

// ConfirmInput carries the echoed code.
type ConfirmInput struct {
	Email         string
	Code          string
	Reason        string
	CorrelationID string
	IPAddress     string
}

// ConfirmResult reports validity only. Wrong code and expired code are
// indistinguishable to prevent enumeration.
type ConfirmResult struct {
	Valid bool `json:"valid"`
}

// Confirm validates the code and, when it matches and has not expired,
// deletes the identity via the provider's admin API and completes the audit
// trail. An invalid code is not an error: the result reports Valid=false
// with no further detail.
func (s *CleanupService) Confirm(ctx context.Context, input ConfirmInput) (*ConfirmResult, error) {
	ctx = ensureContext(ctx)

	email := normalizeEmail(input.Email)
	code := strings.TrimSpace(input.Code)
	if email == "" || code == "" {
		return &ConfirmResult{Valid: false}, nil
	}
	emailHash := crypto.HashEmail(email)

	var record models.VerificationCode
	err := s.db.WithContext(ctx).
		Where("email_hash = ?", emailHash).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CleanupOperations.WithLabelValues("validate", "failure").Inc()
		return &ConfirmResult{Valid: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cleanup service: find code: %w", err)
	}

	now := s.now()
	matches := crypto.ConstantTimeEquals(crypto.HashWithSalt(code, record.CodeSalt), record.CodeHash)
	if !matches || !record.ExpiresAt.After(now) {
		metrics.CleanupOperations.WithLabelValues("validate", "failure").Inc()
		return &ConfirmResult{Valid: false}, nil
	}

	metrics.CleanupOperations.WithLabelValues("validate", "success").Inc()
	if err := s.execute(ctx, email, emailHash, input, now); err != nil {
		return nil, err
	}
	return &ConfirmResult{Valid: true}, nil
}

// execute performs the destructive half: delete the identity, consume the
// code, and complete the audit entry.
func (s *CleanupService) execute(ctx context.Context, email, emailHash string, input ConfirmInput, validatedAt time.Time) error {
	var userID *string
	user, err := s.provider.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		userID = &user.ID
		if err := s.provider.DeleteUser(ctx, user.ID); err != nil {
			s.completeEntry(ctx, emailHash, input, userID, validatedAt, err)
			metrics.CleanupOperations.WithLabelValues("execute", "failure").Inc()
			return fmt.Errorf("cleanup service: delete identity: %w", err)
		}
	case errors.Is(err, identity.ErrUserNotFound):
		// Identity already gone; the exchange still completes so the audit
		// trail records the outcome.
	default:
		s.completeEntry(ctx, emailHash, input, nil, validatedAt, err)
		metrics.CleanupOperations.WithLabelValues("execute", "failure").Inc()
		return fmt.Errorf("cleanup service: resolve identity: %w", err)
	}

	if err := s.db.WithContext(ctx).
		Where("email_hash = ?", emailHash).
		Delete(&models.VerificationCode{}).Error; err != nil {
		s.log.Warn("failed to consume cleanup code", zap.Error(err))
	}

	s.completeEntry(ctx, emailHash, input, userID, validatedAt, nil)
	metrics.CleanupOperations.WithLabelValues("execute", "success").Inc()

	recordAudit(s.audit, ctx, AuditEntry{
		UserID:        userID,
		Action:        "identity.cleanup",
		Resource:      emailHash,
		Result:        "success",
		CorrelationID: input.CorrelationID,
		IPAddress:     input.IPAddress,
	})
	return nil
}

// completeEntry settles the most recent pending audit entry for the address.
// Entries are append-only from the app's perspective: status moves forward,
// rows are never removed here.
func (s *CleanupService) completeEntry(ctx context.Context, emailHash string, input ConfirmInput, userID *string, validatedAt time.Time, execErr error) {
	var entry models.CleanupLogEntry
	err := s.db.WithContext(ctx).
		Where("email_hash = ? AND cleanup_status = ?", emailHash, models.CleanupStatusPending).
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Warn("failed to load cleanup entry", zap.Error(err))
			return
		}
		reason := input.Reason
		if reason == "" {
			reason = models.CleanupReasonUserRequested
		}
		entry = models.CleanupLogEntry{
			Email:         normalizeEmail(input.Email),
			EmailHash:     emailHash,
			CleanupReason: reason,
			CorrelationID: input.CorrelationID,
		}
	}

	now := s.now()
	entry.UserID = userID
	entry.CodeValidatedAt = &validatedAt
	entry.CompletedAt = &now
	if execErr != nil {
		entry.CleanupStatus = models.CleanupStatusFailed
		entry.ErrorCode = "delete_failed"
		entry.ErrorMessage = execErr.Error()
	} else {
		entry.CleanupStatus = models.CleanupStatusCompleted
	}
	if ip := strings.TrimSpace(input.IPAddress); ip != "" && entry.IPHash == "" {
		entry.IPHash = crypto.HashIP(ip)
	}

	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		s.log.Warn("failed to settle cleanup entry", zap.Error(err))
	}
}

// SweepExpiredCodes removes verification codes past their expiry; run on a
// periodic schedule.
func (s *CleanupService) SweepExpiredCodes(ctx context.Context) (int64, error) {
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).
		Where("expires_at <= ?", s.now()).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup service: sweep codes: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// SweepLogEntries removes audit entries older than the retention window.
func (s *CleanupService) SweepLogEntries(ctx context.Context, retentionDays int) (int64, error) {
	ctx = ensureContext(ctx)

	if retentionDays <= 0 {
		return 0, errors.New("cleanup service: retentionDays must be positive")
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.CleanupLogEntry{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup service: sweep log entries: %w", result.Error)
	}
	return result.RowsAffected, nil
}
