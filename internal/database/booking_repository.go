package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/safaritrail/booking-engine/internal/models"
)

const bookingColumns = `
	id, reference, tour_id, agent_id, customer_id,
	start_date, end_date, party, selections, pricing,
	currency, total_amount,
	payment_type, deposit_amount, balance_amount, balance_due_date,
	status, payment_status, promo_code_id, promo_code,
	contact, travelers, idempotency_key,
	balance_paid_at, confirmed_at, cancelled_at, created_at, updated_at`

// bookingsReferenceKey is the implicit name of UNIQUE (reference)
const bookingsReferenceKey = "bookings_reference_key"

// BookingRepository persists bookings
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// CreateBooking inserts a new booking. A duplicate reference or idempotency
// key returns models.ErrDuplicateBooking.
func (r *BookingRepository) CreateBooking(ctx context.Context, b *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, reference, tour_id, agent_id, customer_id,
			start_date, end_date, party, selections, pricing,
			currency, total_amount,
			payment_type, deposit_amount, balance_amount, balance_due_date,
			status, payment_status, promo_code_id, promo_code,
			contact, travelers, idempotency_key,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12,
			$13, $14, $15, $16,
			$17, $18, $19, $20,
			$21, $22, $23,
			$24, $25
		)`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Reference, b.TourID, b.AgentID, b.CustomerID,
		b.StartDate, b.EndDate, b.Party, b.Selections, b.Pricing,
		b.Currency, b.TotalAmount,
		b.PaymentType, b.DepositAmount, b.BalanceAmount, b.BalanceDueDate,
		b.Status, b.PaymentStatus, b.PromoCodeID, b.PromoCode,
		b.Contact, b.Travelers, b.IdempotencyKey,
		b.CreatedAt, b.UpdatedAt,
	)
	if isUniqueViolation(err, bookingsReferenceKey) {
		return models.ErrDuplicateReference
	}
	if isUniqueViolation(err, "") {
		return fmt.Errorf("%w: %s", models.ErrDuplicateBooking, err.(*pq.Error).Constraint)
	}
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

// GetBookingByID returns the booking, or nil if it does not exist
func (r *BookingRepository) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	err := r.db.GetContext(ctx, &booking, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &booking, nil
}

// GetBookingByIdempotencyKey finds the booking a customer created with key
func (r *BookingRepository) GetBookingByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error) {
	var booking models.Booking
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE customer_id = $1 AND idempotency_key = $2`

	err := r.db.GetContext(ctx, &booking, query, customerID, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking by idempotency key: %w", err)
	}
	return &booking, nil
}

// ReferenceExists checks whether a booking reference is taken
func (r *BookingRepository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM bookings WHERE reference = $1)`

	if err := r.db.GetContext(ctx, &exists, query, reference); err != nil {
		return false, fmt.Errorf("failed to check booking reference: %w", err)
	}
	return exists, nil
}

// TransitionStatus moves a booking to status `to` if it is currently in one
// of `from`. Returns false when no row matched.
func (r *BookingRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.BookingStatus, to models.BookingStatus, at time.Time) (bool, error) {
	var cancelledAt *time.Time
	if to == models.BookingStatusCancelled {
		cancelledAt = &at
	}

	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query := `
		UPDATE bookings
		SET status = $2, cancelled_at = COALESCE($3, cancelled_at), updated_at = $4
		WHERE id = $1 AND status = ANY($5)`

	result, err := r.db.ExecContext(ctx, query, id, to, cancelledAt, at, pq.Array(allowed))
	if err != nil {
		return false, fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// MarkPaymentPending records that a gateway session was opened
func (r *BookingRepository) MarkPaymentPending(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE bookings
		SET payment_status = 'pending', updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment' AND payment_status = 'not_initiated'`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark payment pending: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}
