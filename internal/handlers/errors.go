package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/safaritrail/booking-engine/internal/services"
	"github.com/sirupsen/logrus"
)

// retryAfterSeconds is sent with 503 responses when the gateway is unreachable
const retryAfterSeconds = "30"

// respondError translates service errors to HTTP responses
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		verr      *services.ValidationError
		rejection *services.RuleRejection
		notFound  *services.NotFoundError
		transient *services.TransientGatewayError
	)

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": "Request has invalid fields",
			"code":    "VALIDATION_FAILED",
			"fields":  verr.Fields,
		})

	case errors.As(err, &rejection):
		status := http.StatusUnprocessableEntity
		if rejection.Code == services.RejectNotOwner {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{
			"error":   "rejected",
			"message": rejection.Message,
			"code":    rejection.Code,
		})

	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": notFound.Error(),
			"code":    "NOT_FOUND",
		})

	case errors.As(err, &transient):
		logger.WithError(err).Warn("Payment gateway unavailable")
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "gateway_unavailable",
			"message": "Payment gateway is temporarily unavailable. Please retry.",
			"code":    "GATEWAY_UNAVAILABLE",
		})

	case errors.Is(err, services.ErrStateConflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": "The booking changed while the request was processed. Please retry.",
			"code":    "STATE_CONFLICT",
		})

	default:
		logger.WithFields(logrus.Fields{
			"path":  c.Request.URL.Path,
			"error": err.Error(),
		}).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong. Please try again.",
			"code":    "INTERNAL_ERROR",
		})
	}
	_ = c.Error(err)
}

// badRequest reports a malformed body or parameter
func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": message,
		"code":    "INVALID_REQUEST",
	})
}
