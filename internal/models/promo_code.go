package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// PROMO CODE (promo_codes table, owned by agents)
// ============================================================================

// DiscountType matches the CHECK on promo_codes.discount_type
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// PromoCode is an agent-issued discount code
type PromoCode struct {
	ID      uuid.UUID `json:"id" db:"id"`
	Code    string    `json:"code" db:"code"` // stored upper-case
	AgentID uuid.UUID `json:"agent_id" db:"agent_id"`

	// percent_off and max_discount_amount apply to percentage codes,
	// amount_off to fixed codes
	DiscountType      DiscountType        `json:"discount_type" db:"discount_type"`
	PercentOff        decimal.NullDecimal `json:"percent_off" db:"percent_off"`
	AmountOff         *int64              `json:"amount_off,omitempty" db:"amount_off"`
	MaxDiscountAmount *int64              `json:"max_discount_amount,omitempty" db:"max_discount_amount"`

	MinBookingAmount *int64     `json:"min_booking_amount,omitempty" db:"min_booking_amount"`
	MaxUses          *int       `json:"max_uses,omitempty" db:"max_uses"`
	UsesPerUser      int        `json:"uses_per_user" db:"uses_per_user"` // 0 = unlimited
	UsedCount        int        `json:"used_count" db:"used_count"`
	ValidFrom        time.Time  `json:"valid_from" db:"valid_from"`
	ValidUntil       *time.Time `json:"valid_until,omitempty" db:"valid_until"`
	TourIDs          UUIDArray  `json:"tour_ids" db:"tour_ids"` // empty = all tours of the agent
	IsActive         bool       `json:"is_active" db:"is_active"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// PromoRedemption records one confirmed use of a code by a customer
type PromoRedemption struct {
	ID          uuid.UUID `json:"id" db:"id"`
	PromoCodeID uuid.UUID `json:"promo_code_id" db:"promo_code_id"`
	CustomerID  uuid.UUID `json:"customer_id" db:"customer_id"`
	BookingID   uuid.UUID `json:"booking_id" db:"booking_id"`
	RedeemedAt  time.Time `json:"redeemed_at" db:"redeemed_at"`
}

// NormalizePromoCode trims and upper-cases a code for lookup
func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// AllowsTour reports whether the code may be used on tourID of agentID
func (p *PromoCode) AllowsTour(tourID, agentID uuid.UUID) bool {
	if p.AgentID != agentID {
		return false
	}
	return len(p.TourIDs) == 0 || p.TourIDs.Contains(tourID)
}

// InWindow reports whether now falls within [ValidFrom, ValidUntil]
func (p *PromoCode) InWindow(now time.Time) bool {
	if now.Before(p.ValidFrom) {
		return false
	}
	return p.ValidUntil == nil || !now.After(*p.ValidUntil)
}

// Exhausted reports whether the total-use limit has been reached
func (p *PromoCode) Exhausted() bool {
	return p.MaxUses != nil && p.UsedCount >= *p.MaxUses
}

// Discount converts the stored columns into a discount variant
func (p *PromoCode) Discount() (Discount, error) {
	switch p.DiscountType {
	case DiscountTypePercentage:
		if !p.PercentOff.Valid {
			return nil, fmt.Errorf("percentage promo %s has no percent_off", p.Code)
		}
		pct := p.PercentOff.Decimal
		if pct.LessThanOrEqual(decimal.Zero) || pct.GreaterThan(decimal.NewFromInt(100)) {
			return nil, fmt.Errorf("percentage promo %s has percent_off %s outside (0, 100]", p.Code, pct)
		}
		return PercentageDiscount{Percent: pct, Cap: p.MaxDiscountAmount}, nil
	case DiscountTypeFixed:
		if p.AmountOff == nil || *p.AmountOff <= 0 {
			return nil, fmt.Errorf("fixed promo %s has no positive amount_off", p.Code)
		}
		return FixedDiscount{Value: *p.AmountOff}, nil
	default:
		return nil, fmt.Errorf("unknown discount type %q", p.DiscountType)
	}
}

// ============================================================================
// DISCOUNT VARIANTS
// ============================================================================

// Discount is implemented only by PercentageDiscount and FixedDiscount
type Discount interface {
	Type() DiscountType
	// Amount returns the discount for a booking amount, never more than the amount
	Amount(bookingAmount int64) int64
	sealed()
}

// PercentageDiscount takes a percentage off, optionally capped
type PercentageDiscount struct {
	Percent decimal.Decimal
	Cap     *int64
}

// FixedDiscount takes a fixed amount off
type FixedDiscount struct {
	Value int64
}

func (PercentageDiscount) Type() DiscountType { return DiscountTypePercentage }
func (PercentageDiscount) sealed()            {}

func (d PercentageDiscount) Amount(bookingAmount int64) int64 {
	if bookingAmount <= 0 {
		return 0
	}
	off := decimal.NewFromInt(bookingAmount).Mul(d.Percent).Div(decimal.NewFromInt(100)).Floor().IntPart()
	if d.Cap != nil && off > *d.Cap {
		off = *d.Cap
	}
	if off > bookingAmount {
		off = bookingAmount
	}
	if off < 0 {
		return 0
	}
	return off
}

func (FixedDiscount) Type() DiscountType { return DiscountTypeFixed }
func (FixedDiscount) sealed()            {}

func (d FixedDiscount) Amount(bookingAmount int64) int64 {
	if bookingAmount <= 0 || d.Value <= 0 {
		return 0
	}
	if d.Value > bookingAmount {
		return bookingAmount
	}
	return d.Value
}
