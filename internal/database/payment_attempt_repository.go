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
	"github.com/sirupsen/logrus"
)

const paymentAttemptColumns = `
	id, booking_id, bucket, merchant_reference,
	external_tracking_id, status_indicator, gateway,
	amount, currency, status, failure_reason,
	created_at, updated_at, completed_at`

// one completed attempt per booking and bucket
const completedAttemptIndex = "payment_attempts_one_completed_per_bucket"

// PaymentAttemptRepository persists payment attempts and applies settlements
type PaymentAttemptRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAttemptRepository creates a new payment attempt repository
func NewPaymentAttemptRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAttempt inserts a pending attempt
func (r *PaymentAttemptRepository) CreateAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (
			id, booking_id, bucket, merchant_reference,
			gateway, amount, currency, status,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.BookingID, a.Bucket, a.MerchantReference,
		a.Gateway, a.Amount, a.Currency, a.Status,
		a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment attempt: %w", err)
	}
	return nil
}

// GetAttemptByMerchantReference returns the attempt, or nil if it does not exist
func (r *PaymentAttemptRepository) GetAttemptByMerchantReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	var attempt models.PaymentAttempt
	query := `SELECT ` + paymentAttemptColumns + ` FROM payment_attempts WHERE merchant_reference = $1`

	err := r.db.GetContext(ctx, &attempt, query, reference)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	return &attempt, nil
}

// AttachGatewaySession stores the gateway's ids for a new checkout
func (r *PaymentAttemptRepository) AttachGatewaySession(ctx context.Context, attemptID uuid.UUID, trackingID, statusIndicator string) error {
	query := `
		UPDATE payment_attempts
		SET external_tracking_id = COALESCE($2, external_tracking_id),
			status_indicator = COALESCE($3, status_indicator),
			updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, attemptID, nullIfEmpty(trackingID), nullIfEmpty(statusIndicator))
	if err != nil {
		return fmt.Errorf("failed to attach gateway session: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("payment attempt %s not found", attemptID)
	}
	return nil
}

// MarkAttemptFailed fails a pending attempt. Returns false if it was no longer pending.
func (r *PaymentAttemptRepository) MarkAttemptFailed(ctx context.Context, attemptID uuid.UUID, reason, trackingID string) (bool, error) {
	query := `
		UPDATE payment_attempts
		SET status = 'failed',
			failure_reason = $2,
			external_tracking_id = COALESCE($3, external_tracking_id),
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.db.ExecContext(ctx, query, attemptID, reason, nullIfEmpty(trackingID))
	if err != nil {
		return false, fmt.Errorf("failed to mark payment attempt failed: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

// ApplySettlement completes the attempt, moves the booking, redeems the promo
// and writes the audits in one transaction. Every write is guarded by the
// state it expects.
func (r *PaymentAttemptRepository) ApplySettlement(ctx context.Context, plan models.SettlementPlan, audits []*models.PaymentAudit) (models.SettlementOutcome, error) {
	var outcome models.SettlementOutcome

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return outcome, fmt.Errorf("failed to begin settlement: %w", err)
	}
	defer tx.Rollback()

	// 1. Attempt pending -> completed
	result, err := tx.ExecContext(ctx, `
		UPDATE payment_attempts
		SET status = 'completed',
			completed_at = $2,
			external_tracking_id = COALESCE($3, external_tracking_id),
			updated_at = $2
		WHERE id = $1 AND status = 'pending'`,
		plan.AttemptID, plan.SettledAt, nullIfEmpty(plan.TrackingID),
	)
	if isUniqueViolation(err, completedAttemptIndex) {
		return outcome, models.ErrStateConflict
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to complete payment attempt: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return outcome, nil
	}

	// 2. Booking transition
	var confirmedAt, balancePaidAt *time.Time
	if plan.MarkConfirmed {
		confirmedAt = &plan.SettledAt
	}
	if plan.MarkBalancePaid {
		balancePaidAt = &plan.SettledAt
	}
	fromPayment := make([]string, len(plan.FromPaymentStatuses))
	for i, s := range plan.FromPaymentStatuses {
		fromPayment[i] = string(s)
	}

	result, err = tx.ExecContext(ctx, `
		UPDATE bookings
		SET status = $2,
			payment_status = $3,
			confirmed_at = COALESCE($4, confirmed_at),
			balance_paid_at = COALESCE($5, balance_paid_at),
			updated_at = $6
		WHERE id = $1 AND status = $7 AND payment_status = ANY($8)`,
		plan.BookingID, plan.ToStatus, plan.ToPaymentStatus,
		confirmedAt, balancePaidAt, plan.SettledAt,
		plan.FromStatus, pq.Array(fromPayment),
	)
	if err != nil {
		return outcome, fmt.Errorf("failed to update booking: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return outcome, models.ErrStateConflict
	}

	// 3. Promo redemption
	if plan.Redemption != nil {
		redeemed, rejected, err := r.redeem(ctx, tx, plan.Redemption)
		if err != nil {
			return outcome, err
		}
		outcome.PromoRedeemed = redeemed
		outcome.PromoRejected = rejected
	}

	// 4. Audits
	for _, audit := range audits {
		if err := insertAudit(ctx, tx, audit); err != nil {
			return outcome, err
		}
	}

	if err := tx.Commit(); err != nil {
		return outcome, fmt.Errorf("failed to commit settlement: %w", err)
	}

	outcome.Applied = true
	return outcome, nil
}

// redeem counts one use of the promo unless the booking already redeemed it.
// rejected is true when a usage limit was reached.
func (r *PaymentAttemptRepository) redeem(ctx context.Context, tx *sqlx.Tx, red *models.PromoRedemption) (redeemed, rejected bool, err error) {
	var exists bool
	err = tx.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM promo_redemptions WHERE promo_code_id = $1 AND booking_id = $2)`,
		red.PromoCodeID, red.BookingID)
	if err != nil {
		return false, false, fmt.Errorf("failed to check promo redemption: %w", err)
	}
	if exists {
		return false, false, nil
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE promo_codes
		SET used_count = used_count + 1, updated_at = $2
		WHERE id = $1
			AND (max_uses IS NULL OR used_count < max_uses)
			AND (uses_per_user = 0 OR uses_per_user > (
				SELECT COUNT(*) FROM promo_redemptions
				WHERE promo_code_id = $1 AND customer_id = $3
			))`,
		red.PromoCodeID, red.RedeemedAt, red.CustomerID,
	)
	if err != nil {
		return false, false, fmt.Errorf("failed to increment promo usage: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		r.logger.WithFields(logrus.Fields{
			"promo_code_id": red.PromoCodeID,
			"booking_id":    red.BookingID,
		}).Warn("Promo usage limit reached at settlement")
		return false, true, nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO promo_redemptions (id, promo_code_id, customer_id, booking_id, redeemed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (promo_code_id, booking_id) DO NOTHING`,
		red.ID, red.PromoCodeID, red.CustomerID, red.BookingID, red.RedeemedAt,
	)
	if err != nil {
		return false, false, fmt.Errorf("failed to insert promo redemption: %w", err)
	}
	return true, false, nil
}

// ListStalePendingAttempts returns the oldest pending attempts created before a cutoff
func (r *PaymentAttemptRepository) ListStalePendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]*models.PaymentAttempt, error) {
	attempts := []*models.PaymentAttempt{}
	query := `SELECT ` + paymentAttemptColumns + `
		FROM payment_attempts
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`

	if err := r.db.SelectContext(ctx, &attempts, query, createdBefore, limit); err != nil {
		return nil, fmt.Errorf("failed to list stale payment attempts: %w", err)
	}
	return attempts, nil
}
