package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/models"
	apperrors "github.com/glotta/registrar/pkg/errors"
	"github.com/glotta/registrar/pkg/metrics"
)

// ErrTaxIDConflict signals a company with the same tax ID already exists. The
// message must keep containing "already exists"; clients rely on it for
// user-facing copy.
var ErrTaxIDConflict = errors.New("a company with this tax ID already exists")

// CompanyAddress is the structured address stored as JSON on the company row.
type CompanyAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// ProvisionInput is the validated payload for one provisioning call.
type ProvisionInput struct {
	AttemptID      string
	AdminUserID    string
	Name           string
	Email          string
	Phone          string
	TaxID          string
	TaxCountryCode string
	Address        *CompanyAddress
	CorrelationID  string
	IPAddress      string
}

// ProvisionOutput carries the identifiers of the provisioned company.
type ProvisionOutput struct {
	CompanyID    string `json:"company_id"`
	AdminUUID    string `json:"admin_uuid"`
	MembershipID string `json:"membership_id"`
}

// ProvisioningService creates the company and its owner membership in a
// single transaction. Replayed attempts resolve to the original rows via the
// attempt ID rather than creating duplicates.
type ProvisioningService struct {
	db    *gorm.DB
	audit *AuditService
}

// NewProvisioningService constructs a ProvisioningService.
func NewProvisioningService(db *gorm.DB, audit *AuditService) (*ProvisioningService, error) {
	if db == nil {
		return nil, errors.New("provisioning service: db is required")
	}
	return &ProvisioningService{db: db, audit: audit}, nil
}

// Provision atomically creates the company row and the owner membership. If
// membership creation fails the company row must not persist; both live in
// one transaction. A duplicate attempt ID returns the original identifiers.
func (s *ProvisioningService) Provision(ctx context.Context, input ProvisionInput) (*ProvisionOutput, error) {
	ctx = ensureContext(ctx)

	if err := s.validate(&input); err != nil {
		metrics.ProvisioningAttempts.WithLabelValues("validation").Inc()
		return nil, err
	}

	// Idempotent replay: a retried submission carries the same attempt ID.
	if existing, err := s.findByAttemptID(ctx, input.AttemptID); err != nil {
		return nil, err
	} else if existing != nil {
		metrics.ProvisioningAttempts.WithLabelValues("replayed").Inc()
		return existing, nil
	}

	var output ProvisionOutput
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		company := models.Company{
			Name:           input.Name,
			Email:          input.Email,
			Phone:          input.Phone,
			TaxID:          input.TaxID,
			TaxCountryCode: input.TaxCountryCode,
			AttemptID:      input.AttemptID,
		}
		if input.Address != nil {
			encoded, err := json.Marshal(input.Address)
			if err != nil {
				return fmt.Errorf("provisioning service: marshal address: %w", err)
			}
			company.Address = encoded
		}

		if err := tx.Create(&company).Error; err != nil {
			return err
		}

		membership := models.CompanyMembership{
			CompanyID: company.ID,
			UserID:    input.AdminUserID,
			Role:      models.RoleOwner,
			InvitedBy: nil, // self-registration has no inviter
		}
		if err := tx.Create(&membership).Error; err != nil {
			return err
		}

		output = ProvisionOutput{
			CompanyID:    company.ID,
			AdminUUID:    input.AdminUserID,
			MembershipID: membership.ID,
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			// Either a duplicate tax ID, or a concurrent replay hit the
			// attempt-ID unique index between our lookup and the insert.
			if existing, lookupErr := s.findByAttemptID(ctx, input.AttemptID); lookupErr == nil && existing != nil {
				metrics.ProvisioningAttempts.WithLabelValues("replayed").Inc()
				return existing, nil
			}

			metrics.ProvisioningAttempts.WithLabelValues("conflict").Inc()
			recordAudit(s.audit, ctx, AuditEntry{
				UserID:        &input.AdminUserID,
				Action:        "company.provision",
				Result:        "conflict",
				CorrelationID: input.CorrelationID,
				IPAddress:     input.IPAddress,
				Metadata:      map[string]any{"attempt_id": input.AttemptID},
			})
			return nil, apperrors.NewConflict(ErrTaxIDConflict.Error())
		}

		metrics.ProvisioningAttempts.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("provisioning service: provision: %w", err)
	}

	metrics.ProvisioningAttempts.WithLabelValues("created").Inc()
	recordAudit(s.audit, ctx, AuditEntry{
		UserID:        &input.AdminUserID,
		Action:        "company.provision",
		Resource:      output.CompanyID,
		Result:        "success",
		CorrelationID: input.CorrelationID,
		IPAddress:     input.IPAddress,
		Metadata:      map[string]any{"attempt_id": input.AttemptID},
	})

	return &output, nil
}

// Membership returns the caller's membership rows; used by the orphan detector.
func (s *ProvisioningService) Membership(ctx context.Context, userID string) ([]models.CompanyMembership, error) {
	ctx = ensureContext(ctx)

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, apperrors.NewValidation("user id is required")
	}

	var memberships []models.CompanyMembership
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Find(&memberships).Error; err != nil {
		return nil, fmt.Errorf("provisioning service: load memberships: %w", err)
	}
	return memberships, nil
}

func (s *ProvisioningService) validate(input *ProvisionInput) error {
	input.AttemptID = strings.TrimSpace(input.AttemptID)
	input.AdminUserID = strings.TrimSpace(input.AdminUserID)
	input.Name = strings.TrimSpace(input.Name)
	input.Email = normalizeEmail(input.Email)
	input.TaxID = normalizeTaxID(input.TaxID)
	input.TaxCountryCode = strings.ToUpper(strings.TrimSpace(input.TaxCountryCode))

	switch {
	case input.AttemptID == "":
		return apperrors.NewValidation("attempt id is required")
	case input.AdminUserID == "":
		return apperrors.NewValidation("admin user id is required")
	case input.Name == "":
		return apperrors.NewValidation("company name is required")
	case input.Email == "":
		return apperrors.NewValidation("company email is required")
	case input.TaxID == "":
		return apperrors.NewValidation("tax id is required")
	case len(input.TaxCountryCode) != 2:
		return apperrors.NewValidation("tax country code must be a two-letter ISO code")
	}
	return nil
}

func (s *ProvisioningService) findByAttemptID(ctx context.Context, attemptID string) (*ProvisionOutput, error) {
	var company models.Company
	err := s.db.WithContext(ctx).
		Preload("Memberships").
		Where("attempt_id = ?", attemptID).
		First(&company).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("provisioning service: attempt lookup: %w", err)
	}

	output := ProvisionOutput{CompanyID: company.ID}
	for _, m := range company.Memberships {
		if m.Role == models.RoleOwner {
			output.AdminUUID = m.UserID
			output.MembershipID = m.ID
			break
		}
	}
	return &output, nil
}
