package database

import (
	"testing"

	"github.com/lidapay/backend/internal/database/migrations"
	"github.com/lidapay/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// dryRunDB builds statements without ever opening a connection
func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=lidapay dbname=lidapay sslmode=disable",
	}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
		Logger:               logger.Discard,
	})
	require.NoError(t, err)
	return db
}

func TestRecordUpsertsOnPayTransRef(t *testing.T) {
	db := dryRunDB(t)
	repo := NewTransactionRepository(db)

	tx := &models.Transaction{
		DeviceID:    "device-1",
		PayTransRef: "LP_20240502_ABCDEFGH",
		TransType:   models.TransTypeAirtimeTopup,
		Amount:      10,
		Currency:    "GHS",
		Status:      models.StatusCompleted,
	}
	stmt := repo.upsert(db, tx).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, `INSERT INTO "transactions"`)
	assert.Contains(t, sql, `ON CONFLICT ("pay_trans_ref") DO UPDATE SET`)
	assert.Contains(t, sql, `"status"="excluded"."status"`)
	assert.NotContains(t, sql, `"amount"="excluded"."amount"`)
	assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", tx.ID.String())
}

func TestListByDeviceQuery(t *testing.T) {
	db := dryRunDB(t)
	repo := NewTransactionRepository(db)

	var txs []models.Transaction
	stmt := repo.listQuery(db, "device-1", 500).Find(&txs).Statement
	sql := stmt.SQL.String()

	assert.Contains(t, sql, "device_id = $1")
	assert.Contains(t, sql, "ORDER BY created_at DESC")
	assert.Contains(t, sql, "LIMIT")
	assert.Contains(t, stmt.Vars, "device-1")
}

func TestMigrationsRegistered(t *testing.T) {
	list := migrations.List()
	require.Len(t, list, 2)
	assert.Equal(t, "000001_create_transactions_table", list[0].ID)
	assert.Equal(t, "000002_add_transactions_status_index", list[1].ID)
}
