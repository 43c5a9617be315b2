package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentageDiscount(t *testing.T) {
	tests := []struct {
		name     string
		percent  string
		cap      *int64
		amount   int64
		expected int64
	}{
		{name: "capped", percent: "50", cap: int64Ptr(30000), amount: 210000, expected: 30000},
		{name: "under cap", percent: "10", cap: int64Ptr(30000), amount: 210000, expected: 21000},
		{name: "no cap", percent: "50", amount: 210000, expected: 105000},
		{name: "floors fractions", percent: "12.5", amount: 999, expected: 124},
		{name: "hundred percent", percent: "100", amount: 5000, expected: 5000},
		{name: "zero amount", percent: "20", amount: 0, expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := PercentageDiscount{Percent: decimal.RequireFromString(tt.percent), Cap: tt.cap}
			got := d.Amount(tt.amount)
			assert.Equal(t, tt.expected, got)
			assert.LessOrEqual(t, got, tt.amount)
			assert.Equal(t, DiscountTypePercentage, d.Type())
		})
	}
}

func TestFixedDiscount(t *testing.T) {
	d := FixedDiscount{Value: 20000}
	assert.Equal(t, int64(20000), d.Amount(210000))
	assert.Equal(t, int64(15000), d.Amount(15000), "never discounts below zero")
	assert.Equal(t, DiscountTypeFixed, d.Type())
}

func TestPromoCodeDiscount(t *testing.T) {
	t.Run("percentage variant carries the cap", func(t *testing.T) {
		p := &PromoCode{
			Code:              "SAFARI50",
			DiscountType:      DiscountTypePercentage,
			PercentOff:        decimal.NewNullDecimal(decimal.NewFromInt(50)),
			MaxDiscountAmount: int64Ptr(30000),
		}
		d, err := p.Discount()
		require.NoError(t, err)
		pd, ok := d.(PercentageDiscount)
		require.True(t, ok)
		assert.Equal(t, int64(30000), *pd.Cap)
	})

	t.Run("fixed variant has no cap", func(t *testing.T) {
		p := &PromoCode{
			Code:              "TAKE200",
			DiscountType:      DiscountTypeFixed,
			AmountOff:         int64Ptr(20000),
			MaxDiscountAmount: int64Ptr(100),
		}
		d, err := p.Discount()
		require.NoError(t, err)
		assert.Equal(t, int64(20000), d.Amount(210000))
	})

	t.Run("misconfigured codes are errors", func(t *testing.T) {
		bad := []*PromoCode{
			{Code: "A", DiscountType: DiscountTypePercentage},
			{Code: "B", DiscountType: DiscountTypePercentage, PercentOff: decimal.NewNullDecimal(decimal.NewFromInt(150))},
			{Code: "C", DiscountType: DiscountTypeFixed},
			{Code: "D", DiscountType: "bogo"},
		}
		for _, p := range bad {
			_, err := p.Discount()
			assert.Error(t, err, p.Code)
		}
	})
}

func TestPromoCodeRules(t *testing.T) {
	agentID := uuid.New()
	tourID := uuid.New()
	otherTour := uuid.New()

	t.Run("allow list", func(t *testing.T) {
		open := &PromoCode{AgentID: agentID}
		assert.True(t, open.AllowsTour(tourID, agentID))
		assert.False(t, open.AllowsTour(tourID, uuid.New()), "other agent")

		listed := &PromoCode{AgentID: agentID, TourIDs: UUIDArray{tourID.String()}}
		assert.True(t, listed.AllowsTour(tourID, agentID))
		assert.False(t, listed.AllowsTour(otherTour, agentID))
	})

	t.Run("window", func(t *testing.T) {
		from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		until := time.Date(2026, 1, 31, 23, 59, 59, 0, time.UTC)
		p := &PromoCode{ValidFrom: from, ValidUntil: &until}

		assert.False(t, p.InWindow(from.Add(-time.Second)))
		assert.True(t, p.InWindow(from))
		assert.True(t, p.InWindow(until))
		assert.False(t, p.InWindow(until.Add(time.Second)))

		p.ValidUntil = nil
		assert.True(t, p.InWindow(from.AddDate(5, 0, 0)), "open-ended")
	})

	t.Run("exhausted", func(t *testing.T) {
		max := 3
		p := &PromoCode{MaxUses: &max, UsedCount: 2}
		assert.False(t, p.Exhausted())
		p.UsedCount = 3
		assert.True(t, p.Exhausted())
		assert.False(t, (&PromoCode{UsedCount: 1000}).Exhausted(), "unlimited")
	})

	assert.Equal(t, "SAFARI50", NormalizePromoCode("  safari50 "))
}
