package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/safaritrail/booking-engine/internal/models"
)

const tourColumns = `
	id, agent_id, title, currency,
	base_price, child_discount_factor, duration_days,
	deposit_enabled, deposit_percentage, free_cancellation_days,
	accommodations, addons, is_active, created_at, updated_at`

// TourRepository reads tour configurations
type TourRepository struct {
	db *sqlx.DB
}

// NewTourRepository creates a new tour repository
func NewTourRepository(db *sqlx.DB) *TourRepository {
	return &TourRepository{db: db}
}

// GetTourByID returns the tour, or nil if it does not exist
func (r *TourRepository) GetTourByID(ctx context.Context, id uuid.UUID) (*models.Tour, error) {
	var tour models.Tour
	query := `SELECT ` + tourColumns + ` FROM tours WHERE id = $1`

	err := r.db.GetContext(ctx, &tour, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tour: %w", err)
	}
	return &tour, nil
}
