package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/logging"
	"github.com/lidapay/backend/internal/middleware"
	"github.com/lidapay/backend/internal/models"
	"github.com/lidapay/backend/internal/reconcile"
	"go.uber.org/zap"
)

// CheckoutHandler exposes the reconciliation machine to the app and to the gateway redirect
type CheckoutHandler struct {
	machine *reconcile.Machine
	// appRedirectURL is the app deep link the gateway redirect is handed on to
	appRedirectURL string
}

// NewCheckoutHandler creates a new checkout handler
func NewCheckoutHandler(machine *reconcile.Machine, appRedirectURL string) *CheckoutHandler {
	return &CheckoutHandler{
		machine:        machine,
		appRedirectURL: appRedirectURL,
	}
}

// Begin initiates a purchase and returns the checkout URL to open
func (h *CheckoutHandler) Begin(c *gin.Context) {
	var req reconcile.Purchase
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.TransType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown transType"})
		return
	}
	if req.UserID == "" {
		req.UserID = c.GetString(middleware.UserIDKey)
	}

	pending, err := h.machine.Begin(c.Request.Context(), middleware.DeviceID(c), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status":      "success",
		"checkoutUrl": pending.CheckoutURL,
		"transaction": pending,
	})
}

// DeepLinkRequest carries the URL the OS handed to the app
type DeepLinkRequest struct {
	URL string `json:"url" binding:"required"`
}

// DeepLink resolves a redirect URL forwarded by the app
func (h *CheckoutHandler) DeepLink(c *gin.Context) {
	var req DeepLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deviceID := middleware.DeviceID(c)
	outcome, err := h.machine.HandleDeepLink(c.Request.Context(), deviceID, req.URL)
	if errors.Is(err, models.ErrAlreadyReconciled) {
		// the redirect endpoint or the poller got there first; hand back what they produced
		latest, lerr := h.machine.LatestOutcome(c.Request.Context(), deviceID)
		if lerr != nil {
			respondError(c, lerr)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": latest, "duplicate": true})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Redirect is the public landing page of the gateway's browser redirect. It reconciles
// and then hands the browser on to the app's deep link with the same query.
func (h *CheckoutHandler) Redirect(c *gin.Context) {
	rawURL := h.appRedirectURL
	if q := c.Request.URL.RawQuery; q != "" {
		rawURL += "?" + q
	}

	outcome, err := h.machine.HandleDeepLink(c.Request.Context(), "", rawURL)
	if err != nil && !errors.Is(err, models.ErrAlreadyReconciled) {
		logging.Warn("redirect could not be reconciled", zap.Error(err))
	}

	if strings.Contains(c.GetHeader("Accept"), "application/json") || h.appRedirectURL == "" {
		if err != nil && outcome == nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
		return
	}
	c.Redirect(http.StatusFound, rawURL)
}

// StartPolling starts confirming the device's pending transaction in the background
func (h *CheckoutHandler) StartPolling(c *gin.Context) {
	err := h.machine.StartPolling(c.Request.Context(), middleware.DeviceID(c))
	if err != nil && !errors.Is(err, reconcile.ErrAlreadyPolling) {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "polling"})
}

// CancelPolling stops the device's poller, e.g. when the waiting screen is dismissed
func (h *CheckoutHandler) CancelPolling(c *gin.Context) {
	cancelled := h.machine.CancelPolling(middleware.DeviceID(c))
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// Resume applies the staleness rule when the app returns to the foreground
func (h *CheckoutHandler) Resume(c *gin.Context) {
	outcome, err := h.machine.Resume(c.Request.Context(), middleware.DeviceID(c))
	if errors.Is(err, models.ErrNoPendingTransaction) {
		c.Status(http.StatusNoContent)
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}

// Pending returns the device's in-flight transaction
func (h *CheckoutHandler) Pending(c *gin.Context) {
	ctx := c.Request.Context()
	deviceID := middleware.DeviceID(c)

	pending, err := h.machine.Pending(ctx, deviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction": pending,
		"state":       h.machine.State(ctx, deviceID),
		"polling":     h.machine.IsPolling(deviceID),
	})
}

// Outcome returns the latest outcome for the device to act on
func (h *CheckoutHandler) Outcome(c *gin.Context) {
	outcome, err := h.machine.LatestOutcome(c.Request.Context(), middleware.DeviceID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if outcome == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": outcome})
}
