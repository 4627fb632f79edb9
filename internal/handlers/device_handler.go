package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/utils"
)

// DeviceHandler issues device tokens. Production devices get theirs from the auth service.
type DeviceHandler struct {
	secret string
	ttl    time.Duration
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(secret string, ttl time.Duration) *DeviceHandler {
	return &DeviceHandler{secret: secret, ttl: ttl}
}

// IssueTokenRequest identifies the device a token is issued for
type IssueTokenRequest struct {
	DeviceID string `json:"deviceId" binding:"required"`
	UserID   string `json:"userId"`
}

// IssueToken signs a device token
func (h *DeviceHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	token, err := utils.GenerateDeviceToken(h.secret, req.DeviceID, req.UserID, h.ttl)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusCreated, token)
}
