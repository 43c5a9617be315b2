package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromoValidate_Discounts(t *testing.T) {
	env := newTestEnv(t)
	tour := safariTour()
	env.store.addTour(tour)

	fixed := fixedPromo(tour.AgentID, "JAMBO200", 20000)
	fixed.MinBookingAmount = int64Ptr(150000)
	capped := percentPromo(tour.AgentID, "HALFOFF", "50", int64Ptr(30000))
	env.store.addPromo(fixed)
	env.store.addPromo(capped)

	t.Run("fixed", func(t *testing.T) {
		res, err := env.promos.Validate(context.Background(), "jambo200", tour.ID, tour.AgentID, 210000, uuid.New())
		require.NoError(t, err)
		require.True(t, res.Valid)
		assert.Equal(t, int64(20000), res.DiscountAmount)
		assert.Equal(t, models.DiscountTypeFixed, res.DiscountType)
		assert.Equal(t, fixed.ID, res.PromoCode.ID)
		assert.Nil(t, res.Rejection())
	})

	t.Run("percentage capped", func(t *testing.T) {
		res, err := env.promos.Validate(context.Background(), " HalfOff ", tour.ID, tour.AgentID, 210000, uuid.New())
		require.NoError(t, err)
		require.True(t, res.Valid)
		assert.Equal(t, int64(30000), res.DiscountAmount)
		assert.Equal(t, models.DiscountTypePercentage, res.DiscountType)
	})
}

func TestPromoValidate_Rejections(t *testing.T) {
	tour := safariTour()
	customer := uuid.New()
	yesterday := testNow.AddDate(0, 0, -1)
	tomorrow := testNow.AddDate(0, 0, 1)

	tests := []struct {
		name     string
		mutate   func(p *models.PromoCode)
		amount   int64
		prior    int // redemptions by customer
		wantCode RejectionCode
	}{
		{"other agent", func(p *models.PromoCode) { p.AgentID = uuid.New() }, 210000, 0, RejectPromoNotFound},
		{"not on allow-list", func(p *models.PromoCode) { p.TourIDs = models.UUIDArray{uuid.New().String()} }, 210000, 0, RejectPromoNotFound},
		{"inactive", func(p *models.PromoCode) { p.IsActive = false }, 210000, 0, RejectPromoInactive},
		{"not started", func(p *models.PromoCode) { p.ValidFrom = tomorrow }, 210000, 0, RejectPromoOutOfWindow},
		{"expired", func(p *models.PromoCode) { p.ValidUntil = &yesterday }, 210000, 0, RejectPromoOutOfWindow},
		{"below minimum", func(p *models.PromoCode) { p.MinBookingAmount = int64Ptr(250000) }, 210000, 0, RejectPromoMinAmount},
		{"exhausted", func(p *models.PromoCode) { p.MaxUses = intPtr(5); p.UsedCount = 5 }, 210000, 0, RejectPromoExhausted},
		{"customer limit", func(p *models.PromoCode) { p.UsesPerUser = 1 }, 210000, 1, RejectPromoCustomerLimit},
		{"misconfigured", func(p *models.PromoCode) { p.AmountOff = nil }, 210000, 0, RejectPromoInvalid},
		// inactive is reported before the window even when both fail
		{"first failure wins", func(p *models.PromoCode) { p.IsActive = false; p.ValidUntil = &yesterday }, 210000, 0, RejectPromoInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			promo := fixedPromo(tour.AgentID, "KARIBU", 10000)
			tt.mutate(promo)
			env.store.addPromo(promo)
			for i := 0; i < tt.prior; i++ {
				env.store.redemptions = append(env.store.redemptions, models.PromoRedemption{
					ID: uuid.New(), PromoCodeID: promo.ID, CustomerID: customer, BookingID: uuid.New(),
				})
			}

			res, err := env.promos.Validate(context.Background(), "KARIBU", tour.ID, tour.AgentID, tt.amount, customer)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Equal(t, tt.wantCode, res.RejectionCode)
			assert.NotEmpty(t, res.Reason)

			rejection := res.Rejection()
			require.NotNil(t, rejection)
			assert.Equal(t, tt.wantCode, rejection.Code)
		})
	}
}

func TestPromoValidate_UnknownCode(t *testing.T) {
	env := newTestEnv(t)
	tour := safariTour()

	res, err := env.promos.Validate(context.Background(), "NOPE", tour.ID, tour.AgentID, 210000, uuid.Nil)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, RejectPromoNotFound, res.RejectionCode)
}

func TestPromoValidate_AnonymousSkipsCustomerLimit(t *testing.T) {
	env := newTestEnv(t)
	tour := safariTour()
	promo := fixedPromo(tour.AgentID, "ONCE", 10000)
	promo.UsesPerUser = 1
	env.store.addPromo(promo)

	res, err := env.promos.Validate(context.Background(), "ONCE", tour.ID, tour.AgentID, 210000, uuid.Nil)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestPromoValidate_IsDryRun(t *testing.T) {
	env := newTestEnv(t)
	tour := safariTour()
	promo := fixedPromo(tour.AgentID, "LIMITED", 10000)
	promo.MaxUses = intPtr(1)
	env.store.addPromo(promo)

	for i := 0; i < 3; i++ {
		res, err := env.promos.Validate(context.Background(), "LIMITED", tour.ID, tour.AgentID, 210000, uuid.New())
		require.NoError(t, err)
		assert.True(t, res.Valid)
	}
	assert.Equal(t, 0, env.store.promo(promo.ID).UsedCount)
	assert.Empty(t, env.store.redemptions)
}

func TestPromoValidate_StoreError(t *testing.T) {
	env := newTestEnv(t)
	env.store.errs["GetPromoCodeByCode"] = errors.New("connection refused")

	_, err := env.promos.Validate(context.Background(), "ANY", uuid.New(), uuid.New(), 1000, uuid.Nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestPromoHasCapacity(t *testing.T) {
	env := newTestEnv(t)
	agent := uuid.New()
	open := fixedPromo(agent, "OPEN", 1000)
	full := fixedPromo(agent, "FULL", 1000)
	full.MaxUses = intPtr(2)
	full.UsedCount = 2
	env.store.addPromo(open)
	env.store.addPromo(full)

	ok, err := env.promos.HasCapacity(context.Background(), open.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.promos.HasCapacity(context.Background(), full.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = env.promos.HasCapacity(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, ok)
}
