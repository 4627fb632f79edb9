package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/handlers"
	"github.com/lidapay/backend/internal/middleware"
)

// SetupRedirectRoutes registers the public landing page of the gateway's browser
// redirect. It carries no device token, so it is rate limited per IP instead.
func SetupRedirectRoutes(router *gin.Engine, checkoutHandler *handlers.CheckoutHandler, rateLimiter *middleware.RateLimiter) {
	redirect := router.Group("/redirect-url")
	if rateLimiter != nil {
		redirect.Use(rateLimiter.IPRateLimiterMiddleware())
	}
	{
		redirect.GET("", checkoutHandler.Redirect)
	}
}
