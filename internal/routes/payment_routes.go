package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/lidapay/backend/internal/handlers"
	"github.com/lidapay/backend/internal/middleware"
)

// SetupCheckoutRoutes sets up the device-facing checkout routes
func SetupCheckoutRoutes(router *gin.Engine, jwtSecret string, checkoutHandler *handlers.CheckoutHandler, preferencesHandler *handlers.PreferencesHandler, transactionHandler *handlers.TransactionHandler) {
	api := router.Group("/api")
	api.Use(middleware.AuthMiddleware(jwtSecret))
	{
		checkout := api.Group("/checkout")
		{
			checkout.POST("", checkoutHandler.Begin)
			checkout.POST("/deeplink", checkoutHandler.DeepLink)
			checkout.POST("/resume", checkoutHandler.Resume)
			checkout.GET("/pending", checkoutHandler.Pending)
			checkout.GET("/outcome", checkoutHandler.Outcome)

			checkout.POST("/poll", checkoutHandler.StartPolling)
			checkout.DELETE("/poll", checkoutHandler.CancelPolling)
		}

		api.GET("/transactions", transactionHandler.List)
		api.GET("/transactions/:ref", transactionHandler.Get)

		api.GET("/preferences", preferencesHandler.Get)
		api.PUT("/preferences", preferencesHandler.Update)
	}
}
