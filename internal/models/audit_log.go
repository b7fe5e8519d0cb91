package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditLog records security-relevant events (provisioning, cleanup, probes).
// UserID refers to the identity-provider user and is nullable because some
// events fire before an identity exists.
type AuditLog struct {
	ID            string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        *string   `gorm:"type:uuid;index" json:"user_id"`
	Action        string    `gorm:"not null;index" json:"action"`
	Resource      string    `gorm:"index" json:"resource"`
	Result        string    `gorm:"not null" json:"result"`
	CorrelationID string    `gorm:"type:uuid;index" json:"correlation_id"`
	IPHash        string    `json:"-"`
	Metadata      string    `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
