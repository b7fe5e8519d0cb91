package models

// Membership roles. Exactly one owner membership is created atomically with
// the company during self-registration.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// CompanyMembership links an identity-provider user to a company.
// InvitedBy is nil for self-registration.
type CompanyMembership struct {
	BaseModel

	CompanyID string  `gorm:"type:uuid;not null;uniqueIndex:idx_company_user" json:"company_id"`
	UserID    string  `gorm:"type:uuid;not null;uniqueIndex:idx_company_user" json:"user_id"`
	Role      string  `gorm:"not null;default:member" json:"role"`
	InvitedBy *string `gorm:"type:uuid" json:"invited_by"`

	Company *Company `gorm:"foreignKey:CompanyID" json:"company,omitempty"`
}
