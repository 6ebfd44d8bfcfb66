package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/inspectyard/internal/config"
	"github.com/zulandar/inspectyard/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model that AutoMigrate manages.
func AllModels() []interface{} {
	return []interface{}{
		&models.Job{},
		&models.Agent{},
		&models.Confirmation{},
		&models.ProcessedMessage{},
		&models.ScheduledTimer{},
		&models.NotificationLog{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAgents upserts Agent rows from configuration, keyed on address.
// Existing agents keep their id, status and inspection count.
func SeedAgents(db *gorm.DB, agents []config.AgentConfig) error {
	for _, ac := range agents {
		agent := models.Agent{
			ID:              uuid.NewString(),
			Address:         ac.Address,
			Name:            ac.Name,
			Email:           ac.Email,
			Status:          models.AgentActive,
			Zone:            ac.Zone,
			Specializations: ac.Specializations,
			ExperienceYears: ac.ExperienceYears,
			Rating:          ac.Rating,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "email", "zone", "specializations", "experience_years", "rating", "updated_at"}),
		}).Create(&agent)
		if result.Error != nil {
			return fmt.Errorf("db: seed agent %q: %w", ac.Address, result.Error)
		}
	}
	return nil
}
