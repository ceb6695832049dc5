package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/pitchside/internal/models"
)

// AllModels returns every GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Team{},
		&models.Lineup{},
		&models.LineupRole{},
		&models.QueueEntry{},
		&models.Challenge{},
		&models.Stats{},
		&models.Ban{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
