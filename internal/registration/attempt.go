package registration

import (
	"time"

	"github.com/google/uuid"
)

// Address is the structured postal address carried on the company payload.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// CompanyPayload carries the business attributes submitted on registration.
type CompanyPayload struct {
	Name           string  `json:"name"`
	Email          string  `json:"email"`
	Phone          string  `json:"phone"`
	TaxID          string  `json:"tax_id"`
	TaxCountryCode string  `json:"tax_country_code"`
	Address        Address `json:"address"`
}

// Attempt is the ephemeral, client-held state of one registration attempt.
// It is owned exclusively by a single controller, exists only in memory, and
// the password is wiped on success or reset.
type Attempt struct {
	AttemptID  string
	AdminEmail string
	Company    CompanyPayload
	CreatedAt  time.Time

	password string
}

func newAttempt(in SubmitInput, now time.Time) *Attempt {
	id := in.AttemptID
	if id == "" {
		id = uuid.NewString()
	}
	return &Attempt{
		AttemptID:  id,
		AdminEmail: in.AdminEmail,
		Company:    in.Company,
		CreatedAt:  now,
		password:   in.AdminPassword,
	}
}

// clearSecrets wipes credential material once it is no longer needed.
func (a *Attempt) clearSecrets() {
	if a == nil {
		return
	}
	a.password = ""
}
