package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
)

// ============================================================================
// STORE
// Reads return (nil, nil) when the record does not exist.
// Guarded writes return false when the expected prior state did not match.
// ============================================================================

// TourStore reads tour configurations
type TourStore interface {
	GetTourByID(ctx context.Context, id uuid.UUID) (*models.Tour, error)
}

// PromoCodeStore reads promo codes and their redemption history
type PromoCodeStore interface {
	GetPromoCodeByCode(ctx context.Context, code string) (*models.PromoCode, error)
	GetPromoCodeByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error)
	CountCustomerRedemptions(ctx context.Context, promoCodeID, customerID uuid.UUID) (int, error)
}

// BookingStore persists bookings
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.Booking) error
	GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetBookingByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, from []models.BookingStatus, to models.BookingStatus, at time.Time) (bool, error)
	MarkPaymentPending(ctx context.Context, id uuid.UUID) (bool, error)
}

// PaymentAttemptStore persists payment attempts and applies settlements
type PaymentAttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *models.PaymentAttempt) error
	GetAttemptByMerchantReference(ctx context.Context, reference string) (*models.PaymentAttempt, error)
	AttachGatewaySession(ctx context.Context, attemptID uuid.UUID, trackingID, statusIndicator string) error
	MarkAttemptFailed(ctx context.Context, attemptID uuid.UUID, reason, trackingID string) (bool, error)
	// ApplySettlement runs the plan and the audits in one transaction.
	// Returns Applied=false when the attempt is no longer pending and
	// ErrStateConflict when the booking rejects the transition.
	ApplySettlement(ctx context.Context, plan models.SettlementPlan, audits []*models.PaymentAudit) (models.SettlementOutcome, error)
	ListStalePendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]*models.PaymentAttempt, error)
}

// PaymentAuditStore appends payment audit entries
type PaymentAuditStore interface {
	Log(ctx context.Context, audit *models.PaymentAudit) error
}

// ============================================================================
// PAYMENT GATEWAY
// ============================================================================

// GatewayPaymentStatus is the authoritative status reported by a gateway
type GatewayPaymentStatus string

const (
	GatewayStatusCompleted GatewayPaymentStatus = "COMPLETED"
	GatewayStatusFailed    GatewayPaymentStatus = "FAILED"
	GatewayStatusPending   GatewayPaymentStatus = "PENDING"
)

// InitiateRequest opens a hosted checkout for one attempt
type InitiateRequest struct {
	MerchantReference string
	Amount            int64 // minor units
	Currency          string
	Description       string
	CallbackURL       string
	ReturnURL         string
	CancelURL         string
	Customer          models.Contact
}

// GatewaySession is what the gateway hands back for a new checkout
type GatewaySession struct {
	RedirectURL     string
	TrackingID      string
	StatusIndicator string
}

// StatusQuery identifies a checkout at the gateway
type StatusQuery struct {
	TrackingID        string
	StatusIndicator   string
	MerchantReference string
	Currency          string // invoice currency, for gateways that do not echo it
}

// GatewayStatus is the gateway's view of a checkout
type GatewayStatus struct {
	Status    GatewayPaymentStatus
	Amount    int64 // minor units
	Currency  string
	RawStatus string
}

// PaymentGateway is an external hosted-checkout provider
type PaymentGateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (*GatewaySession, error)
	QueryStatus(ctx context.Context, query StatusQuery) (*GatewayStatus, error)
}

// ============================================================================
// NOTIFICATIONS
// ============================================================================

// Notifier delivers booking confirmations. Failures never roll back a booking.
type Notifier interface {
	BookingConfirmed(ctx context.Context, booking *models.Booking) error
}
