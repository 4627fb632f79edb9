package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/models"
	"go.uber.org/zap"
)

// respondError maps reconciliation errors onto status codes. Bodies only ever
// carry the user-facing message, never the raw error.
func respondError(c *gin.Context, err error) {
	var (
		gateway   *models.GatewayError
		corrupted *models.CorruptedLocalStateError
		malformed *models.MalformedDeepLinkError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrNoPendingTransaction):
		c.JSON(http.StatusNotFound, gin.H{"error": "No pending transaction"})
		return
	case errors.Is(err, models.ErrTransactionInFlight), errors.Is(err, models.ErrAlreadyReconciled):
		status = http.StatusConflict
	case errors.Is(err, models.ErrTransactionExpired):
		status = http.StatusGone
	case errors.As(err, &gateway):
		status = http.StatusBadGateway
	case errors.As(err, &corrupted):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &malformed):
		status = http.StatusBadRequest
	}

	if status >= 500 {
		_ = c.Error(err)
		logging.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": models.UserMessage(err)})
}
