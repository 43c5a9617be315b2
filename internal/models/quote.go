package models

import (
	"database/sql/driver"
	"encoding/json"
)

// ============================================================================
// QUOTE INPUTS
// ============================================================================

// PartyComposition counts the travellers on a booking. Infants travel free.
type PartyComposition struct {
	Adults   int `json:"adults" db:"adults"`
	Children int `json:"children" db:"children"`
	Infants  int `json:"infants" db:"infants"`
}

// Total returns the number of people in the party
func (p PartyComposition) Total() int {
	return p.Adults + p.Children + p.Infants
}

// AccommodationSelection picks one catalog option for a number of nights.
// Nights <= 0 means every night of the tour.
type AccommodationSelection struct {
	OptionID string `json:"option_id"`
	Nights   int    `json:"nights,omitempty"`
}

// AddonSelection requests an add-on in a given quantity
type AddonSelection struct {
	AddonID  string `json:"addon_id"`
	Quantity int    `json:"quantity"`
}

// Selections is the JSONB copy of what the customer picked
type Selections struct {
	Accommodations []AccommodationSelection `json:"accommodations"`
	Addons         []AddonSelection         `json:"addons"`
}

// ============================================================================
// PRICE BREAKDOWN
// ============================================================================

// PriceBreakdown is the itemised price of a quote, frozen on the booking.
// Amounts are minor units.
type PriceBreakdown struct {
	Currency           string   `json:"currency"`
	BaseTotal          int64    `json:"base_total"`
	ChildTotal         int64    `json:"child_total"`
	AccommodationTotal int64    `json:"accommodation_total"`
	AddonsTotal        int64    `json:"addons_total"`
	Subtotal           int64    `json:"subtotal"`
	ServiceFee         int64    `json:"service_fee"`
	Discount           int64    `json:"discount"`
	Total              int64    `json:"total"`
	PromoCode          string   `json:"promo_code,omitempty"`
	UnresolvedItems    []string `json:"unresolved_items,omitempty"` // ids not found in the tour catalog
}

// PreDiscountTotal is the amount a promo discount is computed against
func (b PriceBreakdown) PreDiscountTotal() int64 {
	return b.Subtotal + b.ServiceFee
}

func (b PriceBreakdown) Value() (driver.Value, error) {
	return json.Marshal(b)
}

func (b *PriceBreakdown) Scan(value interface{}) error {
	if value == nil {
		*b = PriceBreakdown{}
		return nil
	}
	return scanJSON(value, b, "PriceBreakdown")
}

func (s Selections) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Selections) Scan(value interface{}) error {
	if value == nil {
		*s = Selections{}
		return nil
	}
	return scanJSON(value, s, "Selections")
}

func (p PartyComposition) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *PartyComposition) Scan(value interface{}) error {
	if value == nil {
		*p = PartyComposition{}
		return nil
	}
	return scanJSON(value, p, "PartyComposition")
}
