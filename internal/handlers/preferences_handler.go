package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/middleware"
	"github.com/lidapay/backend/internal/models"
	"github.com/lidapay/backend/internal/reconcile"
)

var themeModes = map[string]bool{"light": true, "dark": true, "system": true}

// PreferencesHandler serves the per-device settings stored next to the pending transaction
type PreferencesHandler struct {
	machine *reconcile.Machine
}

// NewPreferencesHandler creates a new preferences handler
func NewPreferencesHandler(machine *reconcile.Machine) *PreferencesHandler {
	return &PreferencesHandler{machine: machine}
}

// Get returns the device's preferences
func (h *PreferencesHandler) Get(c *gin.Context) {
	prefs, err := h.machine.Preferences(c.Request.Context(), middleware.DeviceID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}

// Update stores the fields present in the body
func (h *PreferencesHandler) Update(c *gin.Context) {
	var req models.Preferences
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ThemeMode != "" && !themeModes[req.ThemeMode] {
		c.JSON(http.StatusBadRequest, gin.H{"error": "themeMode must be light, dark or system"})
		return
	}

	ctx := c.Request.Context()
	deviceID := middleware.DeviceID(c)
	if err := h.machine.SavePreferences(ctx, deviceID, req); err != nil {
		respondError(c, err)
		return
	}

	prefs, err := h.machine.Preferences(ctx, deviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, prefs)
}
