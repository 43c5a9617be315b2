package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/middleware"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/safaritrail/booking-engine/internal/services"
	"github.com/safaritrail/booking-engine/internal/utils"
	"github.com/sirupsen/logrus"
)

// BookingAPI is the booking lifecycle as the handlers use it
type BookingAPI interface {
	Quote(ctx context.Context, req services.QuoteRequest) (*services.QuoteResponse, error)
	CreateBooking(ctx context.Context, req services.CreateBookingRequest) (*models.Booking, error)
	GetBooking(ctx context.Context, bookingID, customerID uuid.UUID) (*models.Booking, error)
	CancelBooking(ctx context.Context, bookingID, customerID uuid.UUID) (*models.Booking, error)
}

// PaymentInitiator opens gateway checkouts
type PaymentInitiator interface {
	InitiatePayment(ctx context.Context, req services.InitiatePaymentRequest) (*services.InitiatePaymentResult, error)
}

// BookingHandler handles quote, booking and payment initiation endpoints
type BookingHandler struct {
	bookings BookingAPI
	payments PaymentInitiator
	logger   *logrus.Logger
}

// NewBookingHandler creates a new BookingHandler
func NewBookingHandler(bookings BookingAPI, payments PaymentInitiator, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{
		bookings: bookings,
		payments: payments,
		logger:   logger,
	}
}

// QuoteRequest is the body of POST /quotes
type QuoteRequest struct {
	TourID         uuid.UUID                       `json:"tour_id" binding:"required"`
	Party          models.PartyComposition         `json:"party"`
	Accommodations []models.AccommodationSelection `json:"accommodations"`
	Addons         []models.AddonSelection         `json:"addons"`
	PromoCode      string                          `json:"promo_code"`
}

// CreateBookingRequest is the body of POST /bookings
type CreateBookingRequest struct {
	QuoteRequest
	StartDate   string            `json:"start_date" binding:"required"` // YYYY-MM-DD
	Contact     models.Contact    `json:"contact"`
	Travelers   []models.Traveler `json:"travelers"`
	PaymentType string            `json:"payment_type"` // full (default) or deposit
}

// InitiatePaymentRequest is the body of POST /bookings/:id/payments
type InitiatePaymentRequest struct {
	Bucket string `json:"bucket" binding:"required"` // full, deposit or balance
}

// ============================================================================
// QUOTE - POST /api/v1/quotes
// ============================================================================

// Quote prices a tour configuration. Anonymous callers get a quote too, but
// per-customer promo limits are only checked for signed-in customers.
func (h *BookingHandler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	var customerID uuid.UUID
	if userCtx, ok := middleware.GetUserContext(c); ok {
		customerID = userCtx.UserID
	}

	quote, err := h.bookings.Quote(c.Request.Context(), services.QuoteRequest{
		TourID:         req.TourID,
		Party:          req.Party,
		Accommodations: req.Accommodations,
		Addons:         req.Addons,
		PromoCode:      req.PromoCode,
		CustomerID:     customerID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

// ============================================================================
// CREATE BOOKING - POST /api/v1/bookings
// ============================================================================

// CreateBooking submits a checkout. A repeated Idempotency-Key returns the
// booking created by the first request.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return
	}

	var req CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}

	startDate, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		verr := &services.ValidationError{}
		verr.Add("start_date", "must be a date in YYYY-MM-DD format")
		respondError(c, h.logger, verr)
		return
	}

	paymentType := models.PaymentTypeFull
	if req.PaymentType != "" {
		paymentType = models.PaymentType(strings.ToLower(req.PaymentType))
		if paymentType != models.PaymentTypeFull && paymentType != models.PaymentTypeDeposit {
			verr := &services.ValidationError{}
			verr.Add("payment_type", "must be full or deposit")
			respondError(c, h.logger, verr)
			return
		}
	}

	booking, err := h.bookings.CreateBooking(c.Request.Context(), services.CreateBookingRequest{
		TourID:         req.TourID,
		StartDate:      startDate,
		Party:          req.Party,
		Accommodations: req.Accommodations,
		Addons:         req.Addons,
		PromoCode:      req.PromoCode,
		Contact:        req.Contact,
		Travelers:      req.Travelers,
		PaymentType:    paymentType,
		CustomerID:     userCtx.UserID,
		IdempotencyKey: strings.TrimSpace(c.GetHeader(middleware.IdempotencyHeader)),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, booking)
}

// ============================================================================
// GET BOOKING - GET /api/v1/bookings/:id
// ============================================================================

// GetBooking returns one of the caller's bookings
func (h *BookingHandler) GetBooking(c *gin.Context) {
	userCtx, bookingID, ok := h.bookingParams(c)
	if !ok {
		return
	}

	booking, err := h.bookings.GetBooking(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// CANCEL BOOKING - POST /api/v1/bookings/:id/cancel
// ============================================================================

// CancelBooking cancels an unconfirmed booking
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	userCtx, bookingID, ok := h.bookingParams(c)
	if !ok {
		return
	}

	booking, err := h.bookings.CancelBooking(c.Request.Context(), bookingID, userCtx.UserID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, booking)
}

// ============================================================================
// INITIATE PAYMENT - POST /api/v1/bookings/:id/payments
// ============================================================================

// InitiatePayment opens a gateway checkout for one part of the price
func (h *BookingHandler) InitiatePayment(c *gin.Context) {
	userCtx, bookingID, ok := h.bookingParams(c)
	if !ok {
		return
	}

	var req InitiatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request: "+err.Error())
		return
	}
	bucket, err := models.ParseAmountBucket(strings.ToLower(strings.TrimSpace(req.Bucket)))
	if err != nil {
		verr := &services.ValidationError{}
		verr.Add("bucket", err.Error())
		respondError(c, h.logger, verr)
		return
	}

	result, err := h.payments.InitiatePayment(c.Request.Context(), services.InitiatePaymentRequest{
		BookingID:  bookingID,
		Bucket:     bucket,
		CustomerID: userCtx.UserID,
		IPAddress:  utils.GetRealIP(c),
		UserAgent:  utils.GetUserAgent(c),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// bookingParams reads the authenticated user and the :id parameter
func (h *BookingHandler) bookingParams(c *gin.Context) (middleware.UserContext, uuid.UUID, bool) {
	userCtx, exists := middleware.GetUserContext(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return middleware.UserContext{}, uuid.Nil, false
	}

	bookingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid booking id")
		return middleware.UserContext{}, uuid.Nil, false
	}

	return userCtx, bookingID, true
}
