package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ============================================================================
// TOUR CONFIGURATION (tours table, owned by agents)
// ============================================================================

// Tour is the pricing-relevant part of a tour listing.
// All amounts are minor units of Currency.
type Tour struct {
	ID       uuid.UUID `json:"id" db:"id"`
	AgentID  uuid.UUID `json:"agent_id" db:"agent_id"`
	Title    string    `json:"title" db:"title"`
	Currency string    `json:"currency" db:"currency"`

	BasePrice           int64               `json:"base_price" db:"base_price"`                       // per adult
	ChildDiscountFactor decimal.NullDecimal `json:"child_discount_factor" db:"child_discount_factor"` // null = platform factor
	DurationDays        int                 `json:"duration_days" db:"duration_days"`

	// Deposit policy
	DepositEnabled       bool `json:"deposit_enabled" db:"deposit_enabled"`
	DepositPercentage    int  `json:"deposit_percentage" db:"deposit_percentage"`
	FreeCancellationDays int  `json:"free_cancellation_days" db:"free_cancellation_days"`

	Accommodations AccommodationCatalog `json:"accommodations" db:"accommodations"`
	Addons         AddonCatalog         `json:"addons" db:"addons"`

	IsActive  bool      `json:"is_active" db:"is_active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// AccommodationOption is one lodging choice with a nightly price
type AccommodationOption struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	NightlyPrice int64  `json:"nightly_price"`
}

// Addon is an optional activity priced per unit
type Addon struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// AccommodationCatalog is stored as JSONB on the tour
type AccommodationCatalog []AccommodationOption

// AddonCatalog is stored as JSONB on the tour
type AddonCatalog []Addon

// Nights returns the number of nights the tour spans (at least one)
func (t *Tour) Nights() int {
	if t.DurationDays <= 1 {
		return 1
	}
	return t.DurationDays - 1
}

// SupportsDeposit reports whether a deposit split can be offered
func (t *Tour) SupportsDeposit() bool {
	return t.DepositEnabled && t.DepositPercentage >= 1 && t.DepositPercentage <= 99
}

// ChildFactor returns the tour's child factor or the platform fallback
func (t *Tour) ChildFactor(platformDefault decimal.Decimal) decimal.Decimal {
	if t.ChildDiscountFactor.Valid {
		return t.ChildDiscountFactor.Decimal
	}
	return platformDefault
}

// EndDate returns the last day of a departure that starts on start
func (t *Tour) EndDate(start time.Time) time.Time {
	days := t.DurationDays
	if days < 1 {
		days = 1
	}
	return start.AddDate(0, 0, days-1)
}

// BalanceDueDate is the start date minus the free-cancellation window
func (t *Tour) BalanceDueDate(start time.Time) time.Time {
	return start.AddDate(0, 0, -t.FreeCancellationDays)
}

// FindAccommodation looks up an option by id
func (c AccommodationCatalog) FindAccommodation(id string) (AccommodationOption, bool) {
	for _, opt := range c {
		if opt.ID == id {
			return opt, true
		}
	}
	return AccommodationOption{}, false
}

// FindAddon looks up an add-on by id
func (c AddonCatalog) FindAddon(id string) (Addon, bool) {
	for _, a := range c {
		if a.ID == id {
			return a, true
		}
	}
	return Addon{}, false
}

func (c AccommodationCatalog) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *AccommodationCatalog) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	return scanJSON(value, c, "AccommodationCatalog")
}

func (c AddonCatalog) Value() (driver.Value, error) {
	if c == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(c)
}

func (c *AddonCatalog) Scan(value interface{}) error {
	if value == nil {
		*c = nil
		return nil
	}
	return scanJSON(value, c, "AddonCatalog")
}
