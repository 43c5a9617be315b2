package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// AMOUNT BUCKETS & ATTEMPT STATUSES
// ============================================================================

// AmountBucket names which part of a booking's price an attempt pays.
// FULL and DEPOSIT open the first payment stream, BALANCE is the second.
type AmountBucket string

const (
	BucketFull    AmountBucket = "full"
	BucketDeposit AmountBucket = "deposit"
	BucketBalance AmountBucket = "balance"
)

// ParseAmountBucket validates a client-supplied bucket
func ParseAmountBucket(s string) (AmountBucket, error) {
	switch AmountBucket(s) {
	case BucketFull, BucketDeposit, BucketBalance:
		return AmountBucket(s), nil
	}
	return "", fmt.Errorf("unknown payment bucket %q (must be full, deposit or balance)", s)
}

// Code is the single-letter tag used in merchant references
func (b AmountBucket) Code() string {
	switch b {
	case BucketFull:
		return "F"
	case BucketDeposit:
		return "D"
	case BucketBalance:
		return "B"
	}
	return "X"
}

// AttemptStatus matches the CHECK on payment_attempts.status
type AttemptStatus string

const (
	AttemptStatusPending   AttemptStatus = "pending"   // Awaiting gateway
	AttemptStatusCompleted AttemptStatus = "completed" // Gateway confirmed the charge
	AttemptStatusFailed    AttemptStatus = "failed"    // Declined, abandoned or rejected on reconciliation
)

// Failure reasons stored on failed attempts
const (
	FailureGatewayUnavailable = "gateway_unavailable"
	FailureGatewayDeclined    = "gateway_declined"
	FailureAmountMismatch     = "amount_mismatch"
	FailureBucketNotPayable   = "bucket_not_payable"
)

// PaymentObligation is an amount due for one bucket of a booking
type PaymentObligation struct {
	Bucket   AmountBucket
	Amount   int64
	Currency string
}

// ============================================================================
// PAYMENT ATTEMPT MODEL (payment_attempts table)
// ============================================================================

// PaymentAttempt is one gateway checkout for one bucket of a booking
type PaymentAttempt struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	BookingID          uuid.UUID     `json:"booking_id" db:"booking_id"`
	Bucket             AmountBucket  `json:"bucket" db:"bucket"`
	MerchantReference  string        `json:"merchant_reference" db:"merchant_reference"`
	ExternalTrackingID *string       `json:"external_tracking_id,omitempty" db:"external_tracking_id"`
	StatusIndicator    *string       `json:"-" db:"status_indicator"` // PAYable only
	Gateway            string        `json:"gateway" db:"gateway"`
	Amount             int64         `json:"amount" db:"amount"`
	Currency           string        `json:"currency" db:"currency"`
	Status             AttemptStatus `json:"status" db:"status"`
	FailureReason      *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

// IsTerminal reports whether the attempt has a final outcome
func (a *PaymentAttempt) IsTerminal() bool {
	return a.Status == AttemptStatusCompleted || a.Status == AttemptStatusFailed
}

// TrackingID returns the stored gateway tracking id or ""
func (a *PaymentAttempt) TrackingID() string {
	if a.ExternalTrackingID == nil {
		return ""
	}
	return *a.ExternalTrackingID
}

// ============================================================================
// SETTLEMENT PLAN
// ============================================================================

// SettlementPlan is the set of guarded writes that settle one completed attempt.
// The store applies it in one transaction; every write asserts its prior state.
type SettlementPlan struct {
	AttemptID  uuid.UUID
	BookingID  uuid.UUID
	Bucket     AmountBucket
	TrackingID string
	SettledAt  time.Time

	FromStatus          BookingStatus
	ToStatus            BookingStatus
	FromPaymentStatuses []PaymentStatus
	ToPaymentStatus     PaymentStatus
	MarkConfirmed       bool
	MarkBalancePaid     bool

	// nil when the booking has no promo or the bucket is not the first stream
	Redemption *PromoRedemption
}

// SettlementOutcome reports what the store did with a plan
type SettlementOutcome struct {
	Applied       bool // false when the attempt was already settled by someone else
	PromoRedeemed bool
	PromoRejected bool // total-use limit reached between validation and settlement
}

// PlanSettlement derives the guarded booking transition for a completed attempt
func PlanSettlement(b *Booking, a *PaymentAttempt, trackingID string, now time.Time) (SettlementPlan, error) {
	plan := SettlementPlan{
		AttemptID:  a.ID,
		BookingID:  b.ID,
		Bucket:     a.Bucket,
		TrackingID: trackingID,
		SettledAt:  now,
	}

	switch a.Bucket {
	case BucketFull, BucketDeposit:
		plan.FromStatus = BookingStatusPendingPayment
		plan.ToStatus = BookingStatusConfirmed
		plan.FromPaymentStatuses = []PaymentStatus{PaymentStatusNotInitiated, PaymentStatusPending}
		plan.ToPaymentStatus = PaymentStatusCompleted
		if a.Bucket == BucketDeposit {
			plan.ToPaymentStatus = PaymentStatusPartial
		}
		plan.MarkConfirmed = true
		if b.PromoCodeID != nil {
			plan.Redemption = &PromoRedemption{
				ID:          uuid.New(),
				PromoCodeID: *b.PromoCodeID,
				CustomerID:  b.CustomerID,
				BookingID:   b.ID,
				RedeemedAt:  now,
			}
		}
	case BucketBalance:
		plan.FromStatus = BookingStatusConfirmed
		plan.ToStatus = BookingStatusConfirmed
		plan.FromPaymentStatuses = []PaymentStatus{PaymentStatusPartial}
		plan.ToPaymentStatus = PaymentStatusCompleted
		plan.MarkBalancePaid = true
	default:
		return SettlementPlan{}, fmt.Errorf("unknown payment bucket %q", a.Bucket)
	}

	return plan, nil
}

// ErrStateConflict is returned by the store when a guarded booking write
// finds the booking in an unexpected state
var ErrStateConflict = errors.New("booking state conflict")
