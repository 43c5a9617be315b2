package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// PaymentAuditRepository handles payment audit operations
type PaymentAuditRepository struct {
	db     *sqlx.DB
	logger *logrus.Logger
}

// NewPaymentAuditRepository creates a new payment audit repository
func NewPaymentAuditRepository(db *sqlx.DB, logger *logrus.Logger) *PaymentAuditRepository {
	return &PaymentAuditRepository{
		db:     db,
		logger: logger,
	}
}

// Log creates a new payment audit entry
func (r *PaymentAuditRepository) Log(ctx context.Context, audit *models.PaymentAudit) error {
	if audit == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}
	if err := insertAudit(ctx, r.db, audit); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"event_type":         audit.EventType,
			"merchant_reference": audit.MerchantReference,
		}).Error("CRITICAL: Failed to log payment audit")
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"audit_id":   audit.ID,
		"event_type": audit.EventType,
	}).Debug("Payment audit logged")
	return nil
}

// insertAudit writes one audit row on db or inside a settlement transaction
func insertAudit(ctx context.Context, exec sqlx.ExecerContext, audit *models.PaymentAudit) error {
	if audit.ID == uuid.Nil {
		audit.ID = uuid.New()
	}
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO payment_audits (
			id, booking_id, attempt_id, merchant_reference, tracking_id,
			event_type, event_source,
			expected_amount, received_amount, currency, amounts_match,
			gateway_status, error_message, details,
			ip_address, user_agent, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7,
			$8, $9, $10, $11,
			$12, $13, $14,
			$15, $16, $17
		)`

	_, err := exec.ExecContext(ctx, query,
		audit.ID, audit.BookingID, audit.AttemptID, audit.MerchantReference, audit.TrackingID,
		audit.EventType, audit.EventSource,
		audit.ExpectedAmount, audit.ReceivedAmount, audit.Currency, audit.AmountsMatch,
		audit.GatewayStatus, audit.ErrorMessage, audit.Details,
		audit.IPAddress, audit.UserAgent, audit.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log payment audit: %w", err)
	}
	return nil
}
