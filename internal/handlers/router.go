package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/safaritrail/booking-engine/internal/middleware"
	"github.com/sirupsen/logrus"
)

// RouterConfig carries what the router needs besides the handlers
type RouterConfig struct {
	Tokens         middleware.TokenValidator
	Locker         middleware.Locker // nil disables the idempotency lock
	IdempotencyTTL time.Duration
	RateLimiter    *middleware.RateLimiter // nil disables rate limiting
	Logger         *logrus.Logger
}

// RegisterRoutes mounts the API on router
func RegisterRoutes(router *gin.Engine, cfg RouterConfig, bookings *BookingHandler, callbacks *PaymentCallbackHandler, health *HealthHandler) {
	router.GET("/health", health.Health)

	limited := func(c *gin.Context) { c.Next() }
	if cfg.RateLimiter != nil {
		limited = cfg.RateLimiter.Middleware(cfg.Logger)
	}

	v1 := router.Group("/api/v1")
	{
		v1.POST("/quotes", limited, middleware.OptionalAuth(cfg.Tokens, cfg.Logger), bookings.Quote)

		payments := v1.Group("/payments", limited)
		{
			payments.GET("/callback", callbacks.Callback)
			payments.POST("/callback", callbacks.Callback)
		}

		protected := v1.Group("/bookings", middleware.AuthMiddleware(cfg.Tokens, cfg.Logger))
		{
			protected.POST("", middleware.Idempotency(cfg.Locker, cfg.IdempotencyTTL, cfg.Logger), bookings.CreateBooking)
			protected.GET("/:id", bookings.GetBooking)
			protected.POST("/:id/cancel", bookings.CancelBooking)
			protected.POST("/:id/payments", bookings.InitiatePayment)
		}
	}
}
