package routes

import (
	"net/http"

	apperrors "fulfillment-service/common/errors"
	commonmw "fulfillment-service/common/middleware"
	"fulfillment-service/controllers"
	"fulfillment-service/middleware"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes mounts the public webhook and the operator API.
func RegisterRoutes(r *gin.Engine, wc *controllers.WebhookController, ac *controllers.AdminController, rl *commonmw.RateLimiter) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Public: authenticated by the gateway signature, not by headers
	webhooks := r.Group("/webhooks")
	if rl != nil {
		webhooks.Use(commonmw.RateLimitMiddleware(rl))
	}
	webhooks.POST("/stripe", wc.StripeWebhook)

	admin := r.Group("/admin")
	admin.Use(middleware.AuthMiddleware(), middleware.AdminOnly(), apperrors.ErrorMiddleware())

	prints := admin.Group("/print-orders")
	prints.GET("/stuck", ac.ListStuckPrintOrders)
	prints.GET("/:id", ac.GetPrintOrder)
	prints.POST("/:id/retry", ac.RetryPrintOrder)
	prints.POST("/:id/submit", ac.SubmitPrintOrder)
	prints.POST("/:id/ship", ac.MarkPrintOrderShipped)
	prints.POST("/:id/refresh", ac.RefreshPrintOrder)

	admin.POST("/scheduler/run", ac.RunScheduler)
	admin.POST("/scheduler/:sequence/run", ac.RunScheduler)
	admin.POST("/recipients/convert", ac.ConvertRecipient)
}
