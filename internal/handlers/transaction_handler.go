package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/database"
	"github.com/lidapay/backend/internal/middleware"
	"github.com/lidapay/backend/internal/models"
)

// HistoryLister reads the purchase history
type HistoryLister interface {
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.Transaction, error)
	FindByRef(ctx context.Context, payTransRef string) (*models.Transaction, error)
}

// TransactionHandler serves the device's purchase history
type TransactionHandler struct {
	history HistoryLister
}

// NewTransactionHandler creates a new transaction handler. history may be nil when
// the service runs without a database.
func NewTransactionHandler(history HistoryLister) *TransactionHandler {
	return &TransactionHandler{history: history}
}

// List returns the device's purchases, newest first
func (h *TransactionHandler) List(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transaction history is unavailable"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	txs, err := h.history.ListByDevice(c.Request.Context(), middleware.DeviceID(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// Get returns one of the device's purchases by payTransRef. Purchases made on
// another device are reported as not found.
func (h *TransactionHandler) Get(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Transaction history is unavailable"})
		return
	}

	tx, err := h.history.FindByRef(c.Request.Context(), c.Param("ref"))
	if errors.Is(err, database.ErrTransactionNotFound) || (err == nil && tx.DeviceID != middleware.DeviceID(c)) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Transaction not found"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": tx})
}
