package database

import (
	"context"
	"errors"

	"github.com/lidapay/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultHistoryLimit caps ListByDevice when no limit is given
const DefaultHistoryLimit = 50

// ErrTransactionNotFound is returned when no history row matches
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionRepository stores the purchase history
type TransactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// upsertColumns are overwritten when a purchase is recorded again under the same payTransRef
var upsertColumns = []string{
	"token", "order_id", "gateway_tx_id", "status", "source", "diagnostic",
	"raw_result", "reconciled_at", "updated_at",
}

// Record inserts the purchase or, if its payTransRef is known, updates its outcome
func (r *TransactionRepository) Record(ctx context.Context, tx *models.Transaction) error {
	return r.upsert(r.db.WithContext(ctx), tx).Error
}

func (r *TransactionRepository) upsert(db *gorm.DB, tx *models.Transaction) *gorm.DB {
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pay_trans_ref"}},
		DoUpdates: clause.AssignmentColumns(upsertColumns),
	}).Create(tx)
}

// ListByDevice returns the device's purchases, newest first
func (r *TransactionRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	if err := r.listQuery(r.db.WithContext(ctx), deviceID, limit).Find(&txs).Error; err != nil {
		return nil, err
	}
	return txs, nil
}

func (r *TransactionRepository) listQuery(db *gorm.DB, deviceID string, limit int) *gorm.DB {
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}
	return db.Model(&models.Transaction{}).
		Where("device_id = ?", deviceID).
		Order("created_at DESC").
		Limit(limit)
}

// FindByRef returns the purchase with the given payTransRef
func (r *TransactionRepository) FindByRef(ctx context.Context, payTransRef string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("pay_trans_ref = ?", payTransRef).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}
