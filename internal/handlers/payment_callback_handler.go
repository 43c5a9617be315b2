package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/safaritrail/booking-engine/internal/services"
	"github.com/safaritrail/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// CallbackReconciler settles payment attempts from gateway callbacks
type CallbackReconciler interface {
	ReconcileCallback(ctx context.Context, req services.CallbackRequest) (*services.ReconcileResult, error)
}

// PaymentCallbackHandler receives gateway notifications and customer returns
type PaymentCallbackHandler struct {
	reconciler CallbackReconciler
	logger     *logrus.Logger
}

// NewPaymentCallbackHandler creates a new PaymentCallbackHandler
func NewPaymentCallbackHandler(reconciler CallbackReconciler, logger *logrus.Logger) *PaymentCallbackHandler {
	return &PaymentCallbackHandler{
		reconciler: reconciler,
		logger:     logger,
	}
}

// CallbackPayload accepts the field names used by the supported gateways.
// PAYable sends uid and invoiceId, Stripe return URLs carry session_id and
// client_reference_id.
type CallbackPayload struct {
	TrackingID        string `json:"tracking_id" form:"tracking_id"`
	UID               string `json:"uid" form:"uid"`
	SessionID         string `json:"session_id" form:"session_id"`
	MerchantReference string `json:"merchant_reference" form:"merchant_reference"`
	InvoiceID         string `json:"invoiceId" form:"invoiceId"`
	ClientReferenceID string `json:"client_reference_id" form:"client_reference_id"`
}

func (p CallbackPayload) trackingID() string {
	return firstNonEmpty(p.TrackingID, p.UID, p.SessionID)
}

func (p CallbackPayload) merchantReference() string {
	return firstNonEmpty(p.MerchantReference, p.InvoiceID, p.ClientReferenceID)
}

// merge fills blank fields from other
func (p *CallbackPayload) merge(other CallbackPayload) {
	if p.TrackingID == "" {
		p.TrackingID = other.TrackingID
	}
	if p.UID == "" {
		p.UID = other.UID
	}
	if p.SessionID == "" {
		p.SessionID = other.SessionID
	}
	if p.MerchantReference == "" {
		p.MerchantReference = other.MerchantReference
	}
	if p.InvoiceID == "" {
		p.InvoiceID = other.InvoiceID
	}
	if p.ClientReferenceID == "" {
		p.ClientReferenceID = other.ClientReferenceID
	}
}

// ============================================================================
// PAYMENT CALLBACK - GET|POST /api/v1/payments/callback
// ============================================================================

// Callback reconciles the attempt named by the callback. The payload only
// identifies the attempt; the outcome always comes from the gateway's own
// status API, so a forged or replayed callback cannot confirm a booking.
func (h *PaymentCallbackHandler) Callback(c *gin.Context) {
	var payload CallbackPayload
	if err := c.ShouldBindQuery(&payload); err != nil {
		badRequest(c, "invalid query: "+err.Error())
		return
	}

	if c.Request.Method == http.MethodPost && c.Request.ContentLength != 0 {
		var body CallbackPayload
		b := binding.Default(c.Request.Method, c.ContentType())
		if err := c.ShouldBindWith(&body, b); err != nil {
			h.logger.WithError(err).Warn("Failed to parse payment callback body")
			badRequest(c, "invalid callback body")
			return
		}
		payload.merge(body)
	}

	ip := utils.GetRealIP(c)
	userAgent := utils.GetUserAgent(c)
	h.logger.WithFields(logrus.Fields{
		"tracking_id":        payload.trackingID(),
		"merchant_reference": payload.merchantReference(),
		"method":             c.Request.Method,
		"ip":                 ip,
		"client":             utils.ParseUserAgent(userAgent).String(),
	}).Info("Payment callback received")

	source := models.PaymentSourceCallback
	if c.Request.Method == http.MethodGet {
		source = models.PaymentSourceReturn
	}

	result, err := h.reconciler.ReconcileCallback(c.Request.Context(), services.CallbackRequest{
		TrackingID:        payload.trackingID(),
		MerchantReference: payload.merchantReference(),
		Source:            source,
		IPAddress:         ip,
		UserAgent:         userAgent,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
