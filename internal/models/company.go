package models

import "gorm.io/datatypes"

// Company is the server-owned business entity created during self-registration.
// AttemptID records the client-generated idempotency key so replayed
// provisioning calls resolve to the original row instead of creating a duplicate.
type Company struct {
	BaseModel

	Name           string         `gorm:"not null" json:"name"`
	Email          string         `gorm:"not null" json:"email"`
	Phone          string         `json:"phone"`
	TaxID          string         `gorm:"uniqueIndex;not null" json:"tax_id"`
	TaxCountryCode string         `gorm:"size:2;not null" json:"tax_country_code"`
	Address        datatypes.JSON `json:"address"`
	AttemptID      string         `gorm:"uniqueIndex;type:uuid;not null" json:"-"`

	Memberships []CompanyMembership `gorm:"foreignKey:CompanyID" json:"memberships,omitempty"`
}
