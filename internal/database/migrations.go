package database

import (
	"gorm.io/gorm"

	"github.com/glotta/registrar/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Company{},
		&models.CompanyMembership{},
		&models.VerificationCode{},
		&models.CleanupLogEntry{},
		&models.AuditLog{},
		&models.CacheEntry{},
	)
}
