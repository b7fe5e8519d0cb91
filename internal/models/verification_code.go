package models

import "time"

// VerificationCode stores a short-lived cleanup code. The plaintext code is
// never persisted; only SHA-256(code + salt) is kept. The unique constraint
// on EmailHash means re-issuing for the same address replaces the prior code.
type VerificationCode struct {
	BaseModel

	EmailHash     string    `gorm:"uniqueIndex;not null" json:"-"`
	CodeHash      string    `gorm:"not null" json:"-"`
	CodeSalt      string    `gorm:"not null" json:"-"`
	CorrelationID string    `gorm:"type:uuid" json:"correlation_id"`
	ExpiresAt     time.Time `gorm:"index" json:"expires_at"`
}
