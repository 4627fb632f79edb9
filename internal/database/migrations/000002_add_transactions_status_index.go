package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// the sweep and support tooling look up unresolved purchases by status and age
func addTransactionsStatusIndexMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_add_transactions_status_index",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE INDEX IF NOT EXISTS idx_transactions_status_created_at ON transactions(status, created_at)
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP INDEX IF EXISTS idx_transactions_status_created_at").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, addTransactionsStatusIndexMigration())
}
