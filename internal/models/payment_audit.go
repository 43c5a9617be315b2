package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType represents the type of payment event
type PaymentEventType string

const (
	PaymentEventInitiated              PaymentEventType = "payment_initiated"
	PaymentEventInitiateFailed         PaymentEventType = "payment_initiate_failed"
	PaymentEventCallbackReceived       PaymentEventType = "callback_received"
	PaymentEventStatusCheckResponse    PaymentEventType = "status_check_response"
	PaymentEventStatusCheckFailed      PaymentEventType = "status_check_failed"
	PaymentEventSuccess                PaymentEventType = "payment_success"
	PaymentEventFailed                 PaymentEventType = "payment_failed"
	PaymentEventBookingConfirmed       PaymentEventType = "booking_confirmed"
	PaymentEventBalanceSettled         PaymentEventType = "balance_settled"
	PaymentEventPromoRedeemed          PaymentEventType = "promo_redeemed"
	PaymentEventPromoRedemptionDenied  PaymentEventType = "promo_redemption_rejected"
	PaymentEventReconciliationMismatch PaymentEventType = "reconciliation_mismatch"
	PaymentEventDuplicateCallback      PaymentEventType = "duplicate_callback"
)

// PaymentEventSource identifies where the event originated
type PaymentEventSource string

const (
	PaymentSourceBackend  PaymentEventSource = "backend"
	PaymentSourceCallback PaymentEventSource = "gateway_callback"
	PaymentSourceGateway  PaymentEventSource = "gateway_api"
	PaymentSourceSystem   PaymentEventSource = "system" // re-poll job
	PaymentSourceReturn   PaymentEventSource = "customer_return"
)

// PaymentAudit is an immutable audit log entry for payment events
type PaymentAudit struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	BookingID         *uuid.UUID `json:"booking_id,omitempty" db:"booking_id"`
	AttemptID         *uuid.UUID `json:"attempt_id,omitempty" db:"attempt_id"`
	MerchantReference *string    `json:"merchant_reference,omitempty" db:"merchant_reference"`
	TrackingID        *string    `json:"tracking_id,omitempty" db:"tracking_id"`

	EventType   PaymentEventType   `json:"event_type" db:"event_type"`
	EventSource PaymentEventSource `json:"event_source" db:"event_source"`

	// Amounts are minor units and must match exactly
	ExpectedAmount *int64  `json:"expected_amount,omitempty" db:"expected_amount"`
	ReceivedAmount *int64  `json:"received_amount,omitempty" db:"received_amount"`
	Currency       *string `json:"currency,omitempty" db:"currency"`
	AmountsMatch   *bool   `json:"amounts_match,omitempty" db:"amounts_match"`

	GatewayStatus *string `json:"gateway_status,omitempty" db:"gateway_status"`
	ErrorMessage  *string `json:"error_message,omitempty" db:"error_message"`
	Details       JSONB   `json:"details,omitempty" db:"details"`

	IPAddress *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent *string `json:"user_agent,omitempty" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewPaymentAudit creates a new payment audit entry with required fields
func NewPaymentAudit(eventType PaymentEventType, source PaymentEventSource) *PaymentAudit {
	return &PaymentAudit{
		ID:          uuid.New(),
		EventType:   eventType,
		EventSource: source,
		CreatedAt:   time.Now(),
	}
}

// SetAttempt links the audit to an attempt and its booking
func (pa *PaymentAudit) SetAttempt(a *PaymentAttempt) *PaymentAudit {
	pa.BookingID = &a.BookingID
	pa.AttemptID = &a.ID
	pa.MerchantReference = &a.MerchantReference
	if a.ExternalTrackingID != nil {
		pa.TrackingID = a.ExternalTrackingID
	}
	return pa
}

// SetBooking links the audit to a booking
func (pa *PaymentAudit) SetBooking(bookingID uuid.UUID) *PaymentAudit {
	pa.BookingID = &bookingID
	return pa
}

// SetMerchantReference sets our reference for the attempt
func (pa *PaymentAudit) SetMerchantReference(ref string) *PaymentAudit {
	if ref != "" {
		pa.MerchantReference = &ref
	}
	return pa
}

// SetTrackingID sets the gateway's identifier for the attempt
func (pa *PaymentAudit) SetTrackingID(id string) *PaymentAudit {
	if id != "" {
		pa.TrackingID = &id
	}
	return pa
}

// SetAmounts records expected and received amounts and returns whether they match
func (pa *PaymentAudit) SetAmounts(expected, received int64, currency string) bool {
	pa.ExpectedAmount = &expected
	pa.ReceivedAmount = &received
	pa.Currency = &currency
	match := expected == received
	pa.AmountsMatch = &match
	return match
}

// SetGatewayStatus sets the status reported by the gateway
func (pa *PaymentAudit) SetGatewayStatus(status string) *PaymentAudit {
	pa.GatewayStatus = &status
	return pa
}

// SetError sets error information
func (pa *PaymentAudit) SetError(message string) *PaymentAudit {
	pa.ErrorMessage = &message
	return pa
}

// SetDetail adds one key to the free-form details
func (pa *PaymentAudit) SetDetail(key string, value interface{}) *PaymentAudit {
	if pa.Details == nil {
		pa.Details = JSONB{}
	}
	pa.Details[key] = value
	return pa
}

// SetMetadata sets request metadata
func (pa *PaymentAudit) SetMetadata(ip, userAgent string) *PaymentAudit {
	if ip != "" {
		pa.IPAddress = &ip
	}
	if userAgent != "" {
		pa.UserAgent = &userAgent
	}
	return pa
}
