package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/vigilguard/vigil/internal/models"
)

// Open bootstraps a SQLite database using the provided filesystem path and
// migrates the schema.
func Open(dbPath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

// Migrate applies the schema for all persisted models.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.SecurityEvent{},
		&models.IPListEntry{},
		&models.Notification{},
	); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}
