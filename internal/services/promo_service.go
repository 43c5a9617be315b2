package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// PromoResult is the outcome of a dry-run promo validation
type PromoResult struct {
	Valid          bool
	DiscountAmount int64
	DiscountType   models.DiscountType
	PromoCode      *models.PromoCode

	// Set when Valid is false
	RejectionCode RejectionCode
	Reason        string
}

// Rejection returns the result as a RuleRejection, or nil when valid
func (r *PromoResult) Rejection() *RuleRejection {
	if r == nil || r.Valid {
		return nil
	}
	return &RuleRejection{Code: r.RejectionCode, Message: r.Reason}
}

// PromoService validates promo codes. It never writes; redemption is part of
// payment settlement.
type PromoService struct {
	promos PromoCodeStore
	logger *logrus.Logger
	now    func() time.Time
}

// NewPromoService creates a new PromoService
func NewPromoService(promos PromoCodeStore, logger *logrus.Logger) *PromoService {
	return &PromoService{
		promos: promos,
		logger: logger,
		now:    time.Now,
	}
}

// Validate checks code for a tour, booking amount and customer. Checks run in
// a fixed order and the first failure is reported. customerID may be uuid.Nil
// for anonymous quotes, which skips the per-customer limit.
// Only store failures are returned as errors.
func (s *PromoService) Validate(
	ctx context.Context,
	code string,
	tourID, agentID uuid.UUID,
	bookingAmount int64,
	customerID uuid.UUID,
) (*PromoResult, error) {
	normalized := models.NormalizePromoCode(code)

	promo, err := s.promos.GetPromoCodeByCode(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to load promo code: %w", err)
	}

	// 1. exists and applies to this tour
	if promo == nil || !promo.AllowsTour(tourID, agentID) {
		return rejected(RejectPromoNotFound, "promo code %s is not valid for this tour", normalized), nil
	}

	// 2. active
	if !promo.IsActive {
		return rejected(RejectPromoInactive, "promo code %s is no longer active", normalized), nil
	}

	// 3. validity window
	now := s.now()
	if !promo.InWindow(now) {
		if now.Before(promo.ValidFrom) {
			return rejected(RejectPromoOutOfWindow, "promo code %s is not valid until %s",
				normalized, promo.ValidFrom.Format("2 Jan 2006")), nil
		}
		return rejected(RejectPromoOutOfWindow, "promo code %s expired on %s",
			normalized, promo.ValidUntil.Format("2 Jan 2006")), nil
	}

	// 4. minimum booking amount
	if promo.MinBookingAmount != nil && bookingAmount < *promo.MinBookingAmount {
		return rejected(RejectPromoMinAmount, "promo code %s requires a booking of at least %s",
			normalized, MajorAmount(*promo.MinBookingAmount)), nil
	}

	// 5. total-use limit
	if promo.Exhausted() {
		return rejected(RejectPromoExhausted, "promo code %s has reached its usage limit", normalized), nil
	}

	// 6. per-customer limit
	if promo.UsesPerUser > 0 && customerID != uuid.Nil {
		used, err := s.promos.CountCustomerRedemptions(ctx, promo.ID, customerID)
		if err != nil {
			return nil, fmt.Errorf("failed to count promo redemptions: %w", err)
		}
		if used >= promo.UsesPerUser {
			return rejected(RejectPromoCustomerLimit,
				"you have already used promo code %s the maximum number of times", normalized), nil
		}
	}

	discount, err := promo.Discount()
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"promo_code_id": promo.ID,
			"code":          normalized,
			"error":         err.Error(),
		}).Error("Promo code is misconfigured")
		return rejected(RejectPromoInvalid, "promo code %s cannot be applied", normalized), nil
	}

	return &PromoResult{
		Valid:          true,
		DiscountAmount: discount.Amount(bookingAmount),
		DiscountType:   discount.Type(),
		PromoCode:      promo,
	}, nil
}

// HasCapacity reports whether the code can still be redeemed at all
func (s *PromoService) HasCapacity(ctx context.Context, promoCodeID uuid.UUID) (bool, error) {
	promo, err := s.promos.GetPromoCodeByID(ctx, promoCodeID)
	if err != nil {
		return false, fmt.Errorf("failed to load promo code: %w", err)
	}
	if promo == nil {
		return false, nil
	}
	return !promo.Exhausted(), nil
}

func rejected(code RejectionCode, format string, args ...interface{}) *PromoResult {
	return &PromoResult{
		Valid:         false,
		RejectionCode: code,
		Reason:        fmt.Sprintf(format, args...),
	}
}
