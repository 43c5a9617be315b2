package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// BOOKING STATUSES (matches DB ENUMs)
// ============================================================================

// BookingStatus matches the CHECK on bookings.status
type BookingStatus string

const (
	BookingStatusDraft          BookingStatus = "draft"           // Checkout started, nothing submitted
	BookingStatusPendingPayment BookingStatus = "pending_payment" // Submitted, waiting for first payment
	BookingStatusConfirmed      BookingStatus = "confirmed"       // Full amount or deposit paid
	BookingStatusCancelled      BookingStatus = "cancelled"       // Cancelled before confirmation
)

// PaymentStatus matches the CHECK on bookings.payment_status
type PaymentStatus string

const (
	PaymentStatusNotInitiated PaymentStatus = "not_initiated"
	PaymentStatusPending      PaymentStatus = "pending"   // Gateway session opened
	PaymentStatusPartial      PaymentStatus = "partial"   // Deposit paid, balance outstanding
	PaymentStatusCompleted    PaymentStatus = "completed" // Nothing outstanding
)

// PaymentType matches the CHECK on bookings.payment_type
type PaymentType string

const (
	PaymentTypeFull    PaymentType = "full"
	PaymentTypeDeposit PaymentType = "deposit"
)

// bookingTransitions lists the allowed status changes
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusDraft:          {BookingStatusPendingPayment, BookingStatusCancelled},
	BookingStatusPendingPayment: {BookingStatusConfirmed, BookingStatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another
func CanTransition(from, to BookingStatus) bool {
	for _, allowed := range bookingTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StatusesAllowing returns every status from which target is reachable
func StatusesAllowing(target BookingStatus) []BookingStatus {
	var from []BookingStatus
	for _, s := range []BookingStatus{BookingStatusDraft, BookingStatusPendingPayment, BookingStatusConfirmed, BookingStatusCancelled} {
		if CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

// ============================================================================
// PAYMENT OBLIGATION ERRORS
// ============================================================================

var (
	// ErrBucketNotApplicable means the bucket does not match the booking's payment type
	ErrBucketNotApplicable = errors.New("payment option does not apply to this booking")

	// ErrBucketSettled means the bucket has already been paid
	ErrBucketSettled = errors.New("this amount has already been paid")

	// ErrDepositOutstanding means the balance was requested before the deposit cleared
	ErrDepositOutstanding = errors.New("the deposit must be paid before the balance")

	// ErrBookingNotPayable means the booking status does not accept payments
	ErrBookingNotPayable = errors.New("booking is not awaiting payment")

	// ErrNothingToPay means the bucket amount is zero
	ErrNothingToPay = errors.New("there is no amount due for this booking")
)

// ErrDuplicateBooking is returned by the store when a booking with the same
// idempotency key or reference already exists
var ErrDuplicateBooking = errors.New("booking already exists")

// ErrDuplicateReference is the ErrDuplicateBooking case where only the
// generated reference collided. A fresh reference can be retried.
var ErrDuplicateReference = fmt.Errorf("%w: reference already taken", ErrDuplicateBooking)

// ============================================================================
// CONTACT & TRAVELERS (JSONB)
// ============================================================================

// Contact is the lead contact for a booking
type Contact struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

// Traveler is one person on the booking
type Traveler struct {
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Nationality string `json:"nationality,omitempty"`
	PassportNo  string `json:"passport_no,omitempty"`
}

// Travelers is stored as JSONB on the booking
type Travelers []Traveler

func (c Contact) Value() (driver.Value, error) {
	return json.Marshal(c)
}

func (c *Contact) Scan(value interface{}) error {
	if value == nil {
		*c = Contact{}
		return nil
	}
	return scanJSON(value, c, "Contact")
}

func (t Travelers) Value() (driver.Value, error) {
	if t == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(t)
}

func (t *Travelers) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	return scanJSON(value, t, "Travelers")
}

// ============================================================================
// BOOKING MODEL (bookings table)
// ============================================================================

// Booking is a customer's reservation of a tour departure.
// Amounts are minor units of Currency.
type Booking struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Reference  string    `json:"reference" db:"reference"` // SF-YYYYMMDD-XXXXXX
	TourID     uuid.UUID `json:"tour_id" db:"tour_id"`
	AgentID    uuid.UUID `json:"agent_id" db:"agent_id"`
	CustomerID uuid.UUID `json:"customer_id" db:"customer_id"`

	StartDate time.Time        `json:"start_date" db:"start_date"`
	EndDate   time.Time        `json:"end_date" db:"end_date"`
	Party     PartyComposition `json:"party" db:"party"`

	Selections  Selections     `json:"selections" db:"selections"`
	Pricing     PriceBreakdown `json:"pricing" db:"pricing"` // frozen at creation
	Currency    string         `json:"currency" db:"currency"`
	TotalAmount int64          `json:"total_amount" db:"total_amount"`

	PaymentType    PaymentType `json:"payment_type" db:"payment_type"`
	DepositAmount  *int64      `json:"deposit_amount,omitempty" db:"deposit_amount"`
	BalanceAmount  *int64      `json:"balance_amount,omitempty" db:"balance_amount"`
	BalanceDueDate *time.Time  `json:"balance_due_date,omitempty" db:"balance_due_date"`

	Status        BookingStatus `json:"status" db:"status"`
	PaymentStatus PaymentStatus `json:"payment_status" db:"payment_status"`

	PromoCodeID *uuid.UUID `json:"promo_code_id,omitempty" db:"promo_code_id"`
	PromoCode   *string    `json:"promo_code,omitempty" db:"promo_code"`

	Contact   Contact   `json:"contact" db:"contact"`
	Travelers Travelers `json:"travelers" db:"travelers"`

	IdempotencyKey *string `json:"-" db:"idempotency_key"`

	BalancePaidAt *time.Time `json:"balance_paid_at,omitempty" db:"balance_paid_at"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// CanCancel reports whether the booking may still be cancelled
func (b *Booking) CanCancel() bool {
	return CanTransition(b.Status, BookingStatusCancelled)
}

// BucketSettled reports whether the amount for bucket has been paid
func (b *Booking) BucketSettled(bucket AmountBucket) bool {
	switch bucket {
	case BucketFull:
		return b.PaymentType == PaymentTypeFull && b.PaymentStatus == PaymentStatusCompleted
	case BucketDeposit:
		return b.PaymentType == PaymentTypeDeposit &&
			(b.PaymentStatus == PaymentStatusPartial || b.PaymentStatus == PaymentStatusCompleted)
	case BucketBalance:
		return b.PaymentType == PaymentTypeDeposit && b.PaymentStatus == PaymentStatusCompleted
	}
	return false
}

// Obligation returns what the customer owes for bucket, or why nothing can be paid
func (b *Booking) Obligation(bucket AmountBucket) (PaymentObligation, error) {
	var amount int64

	switch bucket {
	case BucketFull:
		if b.PaymentType != PaymentTypeFull {
			return PaymentObligation{}, ErrBucketNotApplicable
		}
		if b.BucketSettled(bucket) {
			return PaymentObligation{}, ErrBucketSettled
		}
		if b.Status != BookingStatusPendingPayment {
			return PaymentObligation{}, ErrBookingNotPayable
		}
		amount = b.TotalAmount
	case BucketDeposit:
		if b.PaymentType != PaymentTypeDeposit || b.DepositAmount == nil {
			return PaymentObligation{}, ErrBucketNotApplicable
		}
		if b.BucketSettled(bucket) {
			return PaymentObligation{}, ErrBucketSettled
		}
		if b.Status != BookingStatusPendingPayment {
			return PaymentObligation{}, ErrBookingNotPayable
		}
		amount = *b.DepositAmount
	case BucketBalance:
		if b.PaymentType != PaymentTypeDeposit || b.BalanceAmount == nil {
			return PaymentObligation{}, ErrBucketNotApplicable
		}
		if b.BucketSettled(bucket) {
			return PaymentObligation{}, ErrBucketSettled
		}
		if b.PaymentStatus != PaymentStatusPartial {
			return PaymentObligation{}, ErrDepositOutstanding
		}
		if b.Status != BookingStatusConfirmed {
			return PaymentObligation{}, ErrBookingNotPayable
		}
		amount = *b.BalanceAmount
	default:
		return PaymentObligation{}, fmt.Errorf("unknown payment bucket %q", bucket)
	}

	if amount <= 0 {
		return PaymentObligation{}, ErrNothingToPay
	}
	return PaymentObligation{Bucket: bucket, Amount: amount, Currency: b.Currency}, nil
}

// SplitDeposit splits total into a deposit of pct percent (rounded half away
// from zero) and the remaining balance. deposit + balance == total.
func SplitDeposit(total int64, pct int) (deposit, balance int64) {
	deposit = decimal.NewFromInt(total).
		Mul(decimal.NewFromInt(int64(pct))).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return deposit, total - deposit
}
