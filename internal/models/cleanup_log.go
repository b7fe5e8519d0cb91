package models

import "time"

// Cleanup reasons recorded on audit rows.
const (
	CleanupReasonOrphanedUnverified = "orphaned_unverified"
	CleanupReasonOrphanedVerified   = "orphaned_verified"
	CleanupReasonUserRequested      = "user_requested"
	CleanupReasonAdminAction        = "admin_action"
)

// Cleanup statuses. Rows move pending -> completed|failed and are never
// deleted by the application; a retention sweep removes them after 12 months.
const (
	CleanupStatusPending   = "pending"
	CleanupStatusCompleted = "completed"
	CleanupStatusFailed    = "failed"
)

// CleanupLogEntry is the append-only audit record for orphaned-user cleanup.
type CleanupLogEntry struct {
	BaseModel

	Email         string  `gorm:"not null" json:"email"`
	EmailHash     string  `gorm:"index;not null" json:"-"`
	UserID        *string `gorm:"type:uuid" json:"user_id"`
	CleanupReason string  `gorm:"not null" json:"cleanup_reason"`
	CleanupStatus string  `gorm:"not null;default:pending;index" json:"cleanup_status"`

	CodeIssuedAt    *time.Time `json:"code_issued_at"`
	CodeValidatedAt *time.Time `json:"code_validated_at"`
	CompletedAt     *time.Time `json:"completed_at"`

	CorrelationID string `gorm:"type:uuid;index" json:"correlation_id"`
	IPHash        string `json:"-"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}
