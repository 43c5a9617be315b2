package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/safaritrail/booking-engine/pkg/rabbitmq"
	"github.com/safaritrail/booking-engine/pkg/sms"
	"github.com/sirupsen/logrus"
)

// Booking event routing
const (
	BookingEventsExchange      = "booking_events"
	RoutingKeyBookingConfirmed = "booking.confirmed"
)

// BookingConfirmedEvent is published once a booking's first payment settles
type BookingConfirmedEvent struct {
	BookingID     uuid.UUID            `json:"booking_id"`
	Reference     string               `json:"reference"`
	TourID        uuid.UUID            `json:"tour_id"`
	AgentID       uuid.UUID            `json:"agent_id"`
	CustomerID    uuid.UUID            `json:"customer_id"`
	StartDate     string               `json:"start_date"`
	TotalAmount   int64                `json:"total_amount"`
	Currency      string               `json:"currency"`
	PaymentType   models.PaymentType   `json:"payment_type"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
	BalanceAmount *int64               `json:"balance_amount,omitempty"`
	ContactEmail  string               `json:"contact_email"`
	ConfirmedAt   time.Time            `json:"confirmed_at"`
}

// NotificationService tells the agent and the customer about confirmations
type NotificationService struct {
	publisher rabbitmq.Publisher
	exchange  string
	sms       sms.Gateway
	logger    *logrus.Logger
}

// NewNotificationService creates a new NotificationService. exchange defaults
// to booking_events; smsGateway may be nil.
func NewNotificationService(publisher rabbitmq.Publisher, exchange string, smsGateway sms.Gateway, logger *logrus.Logger) *NotificationService {
	if exchange == "" {
		exchange = BookingEventsExchange
	}
	return &NotificationService{
		publisher: publisher,
		exchange:  exchange,
		sms:       smsGateway,
		logger:    logger,
	}
}

// BookingConfirmed publishes the confirmation event and texts the contact.
// Both channels are attempted; the first failure is returned.
func (s *NotificationService) BookingConfirmed(ctx context.Context, booking *models.Booking) error {
	var firstErr error

	event := BookingConfirmedEvent{
		BookingID:     booking.ID,
		Reference:     booking.Reference,
		TourID:        booking.TourID,
		AgentID:       booking.AgentID,
		CustomerID:    booking.CustomerID,
		StartDate:     booking.StartDate.Format("2006-01-02"),
		TotalAmount:   booking.TotalAmount,
		Currency:      booking.Currency,
		PaymentType:   booking.PaymentType,
		PaymentStatus: booking.PaymentStatus,
		BalanceAmount: booking.BalanceAmount,
		ContactEmail:  booking.Contact.Email,
		ConfirmedAt:   time.Now(),
	}
	if booking.ConfirmedAt != nil {
		event.ConfirmedAt = *booking.ConfirmedAt
	}

	if err := s.publisher.Publish(ctx, s.exchange, RoutingKeyBookingConfirmed, event); err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"error":      err.Error(),
		}).Error("Failed to publish booking confirmed event")
		firstErr = fmt.Errorf("failed to publish booking event: %w", err)
	}

	if s.sms != nil && booking.Contact.Phone != "" {
		if err := s.sms.SendMessage(ctx, booking.Contact.Phone, confirmationMessage(booking)); err != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"gateway":    s.sms.Name(),
				"error":      err.Error(),
			}).Error("Failed to send booking confirmation SMS")
			if firstErr == nil {
				firstErr = fmt.Errorf("failed to send confirmation SMS: %w", err)
			}
		}
	}

	if firstErr == nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"reference":  booking.Reference,
		}).Info("Booking confirmation sent")
	}
	return firstErr
}

func confirmationMessage(b *models.Booking) string {
	msg := fmt.Sprintf("Your safari booking %s starting %s is confirmed.",
		b.Reference, b.StartDate.Format("2 Jan 2006"))
	if b.PaymentType == models.PaymentTypeDeposit && b.BalanceAmount != nil && b.BalanceDueDate != nil {
		msg += fmt.Sprintf(" Balance of %s due by %s.",
			FormatMoney(*b.BalanceAmount, b.Currency), b.BalanceDueDate.Format("2 Jan 2006"))
	}
	return msg
}
