package services

import (
	"fmt"
	"strings"

	"github.com/safaritrail/booking-engine/internal/models"
)

// FieldError is one invalid input field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every invalid field of a request. Nothing is persisted.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Add records a field failure
func (e *ValidationError) Add(field, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
}

// OrNil returns nil when no field failed
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// RejectionCode classifies a business rule rejection for clients
type RejectionCode string

const (
	RejectPromoNotFound      RejectionCode = "PROMO_NOT_FOUND"
	RejectPromoInactive      RejectionCode = "PROMO_INACTIVE"
	RejectPromoOutOfWindow   RejectionCode = "PROMO_OUT_OF_WINDOW"
	RejectPromoMinAmount     RejectionCode = "PROMO_MIN_AMOUNT"
	RejectPromoExhausted     RejectionCode = "PROMO_EXHAUSTED"
	RejectPromoCustomerLimit RejectionCode = "PROMO_CUSTOMER_LIMIT"
	RejectPromoInvalid       RejectionCode = "PROMO_INVALID"
	RejectTourUnavailable    RejectionCode = "TOUR_UNAVAILABLE"
	RejectNotCancellable     RejectionCode = "NOT_CANCELLABLE"
	RejectBucketNotAllowed   RejectionCode = "PAYMENT_OPTION_NOT_ALLOWED"
	RejectBucketSettled      RejectionCode = "ALREADY_PAID"
	RejectDepositOutstanding RejectionCode = "DEPOSIT_OUTSTANDING"
	RejectNotPayable         RejectionCode = "NOT_PAYABLE"
	RejectNotOwner           RejectionCode = "NOT_OWNER"
)

// RuleRejection is a user-facing refusal, not a system failure
type RuleRejection struct {
	Code    RejectionCode
	Message string
}

func (e *RuleRejection) Error() string {
	return e.Message
}

func reject(code RejectionCode, format string, args ...interface{}) *RuleRejection {
	return &RuleRejection{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown booking, tour or merchant reference
type NotFoundError struct {
	Resource string
	Key      string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// TransientGatewayError is a retryable gateway failure; no state was changed
type TransientGatewayError struct {
	Op  string
	Err error
}

func (e *TransientGatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s failed: %v", e.Op, e.Err)
}

func (e *TransientGatewayError) Unwrap() error {
	return e.Err
}

// ErrStateConflict means a guarded transition found an unexpected prior state.
// Callers treat it as an idempotent no-op.
var ErrStateConflict = models.ErrStateConflict
