package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safaritrail/booking-engine/internal/models"
)

const promoCodeColumns = `
	id, code, agent_id,
	discount_type, percent_off, amount_off, max_discount_amount,
	min_booking_amount, max_uses, uses_per_user, used_count,
	valid_from, valid_until, tour_ids, is_active,
	created_at, updated_at`

// PromoCodeRepository reads promo codes and their redemptions
type PromoCodeRepository struct {
	db *sqlx.DB
}

// NewPromoCodeRepository creates a new promo code repository
func NewPromoCodeRepository(db *sqlx.DB) *PromoCodeRepository {
	return &PromoCodeRepository{db: db}
}

// GetPromoCodeByCode looks a code up case-insensitively
func (r *PromoCodeRepository) GetPromoCodeByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	query := `SELECT ` + promoCodeColumns + ` FROM promo_codes WHERE code = $1`

	err := r.db.GetContext(ctx, &promo, query, strings.ToUpper(strings.TrimSpace(code)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &promo, nil
}

// GetPromoCodeByID returns the promo code, or nil if it does not exist
func (r *PromoCodeRepository) GetPromoCodeByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error) {
	var promo models.PromoCode
	query := `SELECT ` + promoCodeColumns + ` FROM promo_codes WHERE id = $1`

	err := r.db.GetContext(ctx, &promo, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get promo code: %w", err)
	}
	return &promo, nil
}

// CountCustomerRedemptions counts settled redemptions of a code by one customer
func (r *PromoCodeRepository) CountCustomerRedemptions(ctx context.Context, promoCodeID, customerID uuid.UUID) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM promo_redemptions WHERE promo_code_id = $1 AND customer_id = $2`

	if err := r.db.GetContext(ctx, &count, query, promoCodeID, customerID); err != nil {
		return 0, fmt.Errorf("failed to count promo redemptions: %w", err)
	}
	return count, nil
}
