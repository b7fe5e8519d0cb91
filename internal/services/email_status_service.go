package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/internal/models"
	apperrors "github.com/glotta/registrar/pkg/errors"
	"github.com/glotta/registrar/pkg/metrics"
)

// Email classifications served to probing clients.
const (
	EmailStatusNotRegistered        = "not_registered"
	EmailStatusRegisteredVerified   = "registered_verified"
	EmailStatusRegisteredUnverified = "registered_unverified"
)

// EmailStatusInput is one classification request.
type EmailStatusInput struct {
	Email         string
	AttemptID     string
	CorrelationID string
	IPAddress     string
}

// EmailStatusResult classifies an address and, when the identity resolves,
// carries recovery hints for orphan handling.
type EmailStatusResult struct {
	Status        string     `json:"status"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	LastSignInAt  *time.Time `json:"last_sign_in_at,omitempty"`
	CorrelationID string     `json:"correlation_id"`
	AttemptID     string     `json:"attempt_id,omitempty"`

	HasCompanyData *bool `json:"has_company_data,omitempty"`
	IsOrphaned     *bool `json:"is_orphaned,omitempty"`
}

// EmailStatusService classifies addresses against the identity provider,
// enriched with membership data from the local database.
type EmailStatusService struct {
	db       *gorm.DB
	provider identity.Client
	limiter  *RateLimiter
}

// NewEmailStatusService constructs an EmailStatusService.
func NewEmailStatusService(db *gorm.DB, provider identity.Client, limiter *RateLimiter) (*EmailStatusService, error) {
	if db == nil {
		return nil, errors.New("email status service: db is required")
	}
	if provider == nil {
		return nil, errors.New("email status service: identity client is required")
	}
	if limiter == nil {
		return nil, errors.New("email status service: rate limiter is required")
	}
	return &EmailStatusService{db: db, provider: provider, limiter: limiter}, nil
}

// Check classifies the address. Provider failures surface as upstream errors
// with no identity detail attached; the raw cause stays in logs only.
func (s *EmailStatusService) Check(ctx context.Context, input EmailStatusInput) (*EmailStatusResult, error) {
	ctx = ensureContext(ctx)

	email := normalizeEmail(input.Email)
	if email == "" {
		return nil, apperrors.NewValidation("email is required")
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, apperrors.NewValidation("email address is malformed")
	}

	decision, err := s.limiter.Allow(ctx, input.IPAddress, email)
	if err != nil {
		return nil, fmt.Errorf("email status service: %w", err)
	}
	if !decision.Allowed {
		metrics.EmailProbes.WithLabelValues("rate_limited").Inc()
		return nil, &RateLimitedError{Decision: *decision}
	}

	result := &EmailStatusResult{
		CorrelationID: input.CorrelationID,
		AttemptID:     input.AttemptID,
	}

	user, err := s.provider.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			result.Status = EmailStatusNotRegistered
			metrics.EmailProbes.WithLabelValues(result.Status).Inc()
			return result, nil
		}
		metrics.EmailProbes.WithLabelValues("upstream_error").Inc()
		return nil, apperrors.ErrUpstream.WithInternal(err)
	}

	if user.EmailConfirmedAt != nil {
		result.Status = EmailStatusRegisteredVerified
		result.VerifiedAt = user.EmailConfirmedAt
	} else {
		result.Status = EmailStatusRegisteredUnverified
	}
	result.LastSignInAt = user.LastSignInAt

	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.CompanyMembership{}).
		Where("user_id = ?", user.ID).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("email status service: load memberships: %w", err)
	}
	hasCompany := count > 0
	orphaned := !hasCompany
	result.HasCompanyData = &hasCompany
	result.IsOrphaned = &orphaned

	metrics.EmailProbes.WithLabelValues(result.Status).Inc()
	return result, nil
}
