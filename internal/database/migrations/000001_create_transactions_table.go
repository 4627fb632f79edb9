package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// createTransactionsTableMigration creates the purchase history table
func createTransactionsTableMigration() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_transactions_table",
		Migrate: func(tx *gorm.DB) error {
			return tx.Exec(`
				CREATE TABLE IF NOT EXISTS transactions (
					id UUID PRIMARY KEY,
					device_id VARCHAR(100) NOT NULL,
					user_id VARCHAR(100),
					pay_trans_ref VARCHAR(100) NOT NULL,
					trans_type VARCHAR(30) NOT NULL,
					recipient_number VARCHAR(30),
					amount DECIMAL(20,2) NOT NULL,
					currency VARCHAR(3) NOT NULL,
					description VARCHAR(255),
					token VARCHAR(255),
					order_id VARCHAR(100),
					gateway_tx_id VARCHAR(100),
					status VARCHAR(20) NOT NULL,
					source VARCHAR(20),
					diagnostic TEXT,
					raw_result JSONB,
					initiated_at TIMESTAMP WITH TIME ZONE,
					reconciled_at TIMESTAMP WITH TIME ZONE,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					deleted_at TIMESTAMP WITH TIME ZONE
				);

				CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_pay_trans_ref ON transactions(pay_trans_ref);
				CREATE INDEX IF NOT EXISTS idx_transactions_device_id ON transactions(device_id);
				CREATE INDEX IF NOT EXISTS idx_transactions_user_id ON transactions(user_id);
				CREATE INDEX IF NOT EXISTS idx_transactions_token ON transactions(token);
				CREATE INDEX IF NOT EXISTS idx_transactions_order_id ON transactions(order_id);
				CREATE INDEX IF NOT EXISTS idx_transactions_deleted_at ON transactions(deleted_at);
			`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Exec("DROP TABLE IF EXISTS transactions").Error
		},
	}
}

func init() {
	migrationsList = append(migrationsList, createTransactionsTableMigration())
}
