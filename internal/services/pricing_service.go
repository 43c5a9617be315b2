package services

import (
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/shopspring/decimal"
)

// PricingConfig holds platform-level pricing constants
type PricingConfig struct {
	ServiceFeeRate      decimal.Decimal
	ChildDiscountFactor decimal.Decimal
}

// DefaultPricingConfig returns a 5% service fee and children at 70% of the adult price
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		ServiceFeeRate:      decimal.RequireFromString("0.05"),
		ChildDiscountFactor: decimal.RequireFromString("0.7"),
	}
}

// PricingService computes itemised quotes. It performs no I/O.
type PricingService struct {
	config PricingConfig
}

// NewPricingService creates a new PricingService
func NewPricingService(config PricingConfig) *PricingService {
	return &PricingService{config: config}
}

// ComputeQuote prices a party and its selections against a tour.
// Unknown accommodation or add-on ids contribute nothing and are listed in
// UnresolvedItems. It never fails.
func (s *PricingService) ComputeQuote(
	tour *models.Tour,
	party models.PartyComposition,
	accommodations []models.AccommodationSelection,
	addons []models.AddonSelection,
) models.PriceBreakdown {
	if tour == nil {
		return models.PriceBreakdown{}
	}

	b := models.PriceBreakdown{Currency: tour.Currency}

	adults := nonNegative(party.Adults)
	children := nonNegative(party.Children)

	b.BaseTotal = tour.BasePrice * int64(adults)

	childRate := decimal.NewFromInt(tour.BasePrice).
		Mul(tour.ChildFactor(s.config.ChildDiscountFactor)).
		Floor().
		IntPart()
	b.ChildTotal = childRate * int64(children)

	for _, sel := range accommodations {
		opt, ok := tour.Accommodations.FindAccommodation(sel.OptionID)
		if !ok {
			b.UnresolvedItems = append(b.UnresolvedItems, "accommodation:"+sel.OptionID)
			continue
		}
		nights := sel.Nights
		if nights <= 0 {
			nights = tour.Nights()
		}
		b.AccommodationTotal += opt.NightlyPrice * int64(nights)
	}

	for _, sel := range addons {
		addon, ok := tour.Addons.FindAddon(sel.AddonID)
		if !ok {
			b.UnresolvedItems = append(b.UnresolvedItems, "addon:"+sel.AddonID)
			continue
		}
		b.AddonsTotal += addon.Price * int64(nonNegative(sel.Quantity))
	}

	b.Subtotal = b.BaseTotal + b.ChildTotal + b.AccommodationTotal + b.AddonsTotal
	b.ServiceFee = decimal.NewFromInt(b.Subtotal).Mul(s.config.ServiceFeeRate).Round(0).IntPart()
	b.Total = floorZero(b.Subtotal + b.ServiceFee)

	return b
}

// ApplyDiscount returns a copy of b with discount applied, clamped to the
// pre-discount total
func (s *PricingService) ApplyDiscount(b models.PriceBreakdown, discount int64, code string) models.PriceBreakdown {
	if discount < 0 {
		discount = 0
	}
	if ceiling := b.PreDiscountTotal(); discount > ceiling {
		discount = floorZero(ceiling)
	}
	b.Discount = discount
	b.PromoCode = code
	b.Total = floorZero(b.Subtotal + b.ServiceFee - discount)
	return b
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
