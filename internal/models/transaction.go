package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Transaction is the history row of a purchase, written when it is initiated and
// updated when it reaches a terminal state
type Transaction struct {
	ID              uuid.UUID         `gorm:"type:uuid;primary_key" json:"id"`
	DeviceID        string            `gorm:"type:varchar(100);index;not null" json:"device_id"`
	UserID          string            `gorm:"type:varchar(100);index" json:"user_id"`
	PayTransRef     string            `gorm:"type:varchar(100);uniqueIndex;not null" json:"pay_trans_ref"`
	TransType       TransType         `gorm:"type:varchar(30);not null" json:"trans_type"`
	RecipientNumber string            `gorm:"type:varchar(30)" json:"recipient_number"`
	Amount          float64           `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency        string            `gorm:"type:varchar(3);not null" json:"currency"`
	Description     string            `gorm:"type:varchar(255)" json:"description"`
	Token           string            `gorm:"type:varchar(255);index" json:"token"`
	OrderID         string            `gorm:"type:varchar(100);index" json:"order_id"`
	GatewayTxID     string            `gorm:"type:varchar(100)" json:"transaction_id"`
	Status          TransactionStatus `gorm:"type:varchar(20);not null" json:"status"`
	Source          string            `gorm:"type:varchar(20)" json:"source"` // deeplink or poll
	Diagnostic      string            `gorm:"type:text" json:"diagnostic"`
	RawResult       []byte            `gorm:"type:jsonb" json:"-"`
	InitiatedAt     *time.Time        `json:"initiated_at"`
	ReconciledAt    *time.Time        `json:"reconciled_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
	DeletedAt       gorm.DeletedAt    `gorm:"index" json:"-"`
}

// BeforeCreate assigns a UUID rather than relying on a database default
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
