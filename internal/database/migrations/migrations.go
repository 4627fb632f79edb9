package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/lidapay/backend/internal/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// migrationsList holds all migrations in the order they were registered
var migrationsList []*gormigrate.Migration

// List returns the registered migrations
func List() []*gormigrate.Migration {
	return migrationsList
}

// RunMigrations runs all database migrations
func RunMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, migrationsList)

	if err := m.Migrate(); err != nil {
		logging.Error("could not migrate", zap.Error(err))
		return err
	}
	logging.Info("migrations ran successfully", zap.Int("count", len(migrationsList)))
	return nil
}
