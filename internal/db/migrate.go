package db

import (
	"fmt"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model of the sandbox ledger.
func AllModels() []interface{} {
	return []interface{}{
		&models.Account{},
		&models.Balance{},
		&models.Transfer{},
		&models.Agent{},
		&models.DepositRequest{},
		&models.BitcoinHolding{},
		&models.Proposal{},
		&models.Vote{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedAgents upserts agent rows keyed by code.
func SeedAgents(db *gorm.DB, agents []models.Agent) error {
	for _, a := range agents {
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "phone", "location", "ref", "active"}),
		}).Create(&a)
		if result.Error != nil {
			return fmt.Errorf("db: seed agent %q: %w", a.Code, result.Error)
		}
	}
	return nil
}

// SeedProposals inserts proposals whose title is not already present.
func SeedProposals(db *gorm.DB, proposals []models.Proposal) error {
	for _, p := range proposals {
		var count int64
		if err := db.Model(&models.Proposal{}).Where("title = ?", p.Title).Count(&count).Error; err != nil {
			return fmt.Errorf("db: seed proposal %q: %w", p.Title, err)
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&p).Error; err != nil {
			return fmt.Errorf("db: seed proposal %q: %w", p.Title, err)
		}
	}
	return nil
}
