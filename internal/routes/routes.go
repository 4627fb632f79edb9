package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lidapay/backend/internal/handlers"
	"github.com/lidapay/backend/internal/middleware"
)

// Handlers bundles everything the router serves
type Handlers struct {
	Checkout     *handlers.CheckoutHandler
	Preferences  *handlers.PreferencesHandler
	Transactions *handlers.TransactionHandler
	Health       *handlers.HealthHandler
	// Device is only registered outside production
	Device *handlers.DeviceHandler
}

// Options configures route registration
type Options struct {
	JWTSecret   string
	RateLimiter *middleware.RateLimiter
	// MetricsHandler serves /metrics; promhttp.Handler() when nil
	MetricsHandler http.Handler
}

// SetupRoutes registers every route of the service
func SetupRoutes(router *gin.Engine, h Handlers, opts Options) {
	router.GET("/healthz", h.Health.Health)
	router.GET("/health", h.Health.Health)

	metricsHandler := opts.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	SetupRedirectRoutes(router, h.Checkout, opts.RateLimiter)
	SetupCheckoutRoutes(router, opts.JWTSecret, h.Checkout, h.Preferences, h.Transactions)

	if h.Device != nil {
		devices := router.Group("/api/devices")
		if opts.RateLimiter != nil {
			devices.Use(opts.RateLimiter.IPRateLimiterMiddleware())
		}
		{
			devices.POST("/token", h.Device.IssueToken)
		}
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Route not found"})
	})
}
