package services

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places of every supported currency
const minorUnitExponent = 2

// MajorAmount renders minor units as a fixed-point string, 210000 -> "2100.00"
func MajorAmount(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}

// ParseMajorAmount converts a gateway amount string into minor units
func ParseMajorAmount(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return d.Shift(minorUnitExponent).Round(0).IntPart(), nil
}

// FormatMoney renders an amount for user-facing messages, "1500.00 USD"
func FormatMoney(minor int64, currency string) string {
	return MajorAmount(minor) + " " + currency
}
