package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	phonevalidator "github.com/safaritrail/booking-engine/pkg/validator"
	"github.com/sirupsen/logrus"
)

// BookingConfig holds booking lifecycle settings
type BookingConfig struct {
	ReferencePrefix       string
	MaxReferenceAttempts  int
	DefaultCurrency       string
	AllowSameDayDeparture bool
}

// DefaultBookingConfig returns default configuration
func DefaultBookingConfig() BookingConfig {
	return BookingConfig{
		ReferencePrefix:      "SF",
		MaxReferenceAttempts: 10,
		DefaultCurrency:      "USD",
	}
}

// BookingService owns the booking state machine: quote, create, cancel
type BookingService struct {
	tours    TourStore
	bookings BookingStore
	pricing  *PricingService
	promos   *PromoService
	config   BookingConfig
	validate *validator.Validate
	phones   *phonevalidator.PhoneValidator
	logger   *logrus.Logger
	now      func() time.Time
}

// NewBookingService creates a new BookingService
func NewBookingService(
	tours TourStore,
	bookings BookingStore,
	pricing *PricingService,
	promos *PromoService,
	config BookingConfig,
	logger *logrus.Logger,
) *BookingService {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &BookingService{
		tours:    tours,
		bookings: bookings,
		pricing:  pricing,
		promos:   promos,
		config:   config,
		validate: v,
		phones:   phonevalidator.NewPhoneValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// QUOTE
// ============================================================================

// QuoteRequest prices a tour configuration
type QuoteRequest struct {
	TourID         uuid.UUID
	Party          models.PartyComposition
	Accommodations []models.AccommodationSelection
	Addons         []models.AddonSelection
	PromoCode      string
	CustomerID     uuid.UUID // uuid.Nil for anonymous quotes
}

// QuoteResponse is a priced quote, with the promo outcome if a code was given
type QuoteResponse struct {
	Breakdown          models.PriceBreakdown `json:"breakdown"`
	PromoApplied       bool                  `json:"promo_applied"`
	PromoRejection     string                `json:"promo_rejection,omitempty"`
	PromoRejectionCode RejectionCode         `json:"promo_rejection_code,omitempty"`
	DepositAvailable   bool                  `json:"deposit_available"`
	DepositAmount      int64                 `json:"deposit_amount,omitempty"`
	BalanceAmount      int64                 `json:"balance_amount,omitempty"`
}

// Quote prices a configuration. A promo rejection is reported next to the
// undiscounted breakdown rather than as an error.
func (s *BookingService) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	verr := &ValidationError{}
	validateParty(verr, req.Party)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	tour, err := s.loadTour(ctx, req.TourID)
	if err != nil {
		return nil, err
	}

	breakdown, promoResult, err := s.price(ctx, tour, req.Party, req.Accommodations, req.Addons, req.PromoCode, req.CustomerID)
	if err != nil {
		return nil, err
	}

	resp := &QuoteResponse{Breakdown: breakdown}
	if promoResult != nil {
		resp.PromoApplied = promoResult.Valid
		resp.PromoRejection = promoResult.Reason
		resp.PromoRejectionCode = promoResult.RejectionCode
	}
	if tour.SupportsDeposit() {
		deposit, balance := models.SplitDeposit(breakdown.Total, tour.DepositPercentage)
		if deposit > 0 && balance > 0 {
			resp.DepositAvailable = true
			resp.DepositAmount = deposit
			resp.BalanceAmount = balance
		}
	}

	return resp, nil
}

// price runs the calculator and, when a code is given, the promo validator
func (s *BookingService) price(
	ctx context.Context,
	tour *models.Tour,
	party models.PartyComposition,
	accommodations []models.AccommodationSelection,
	addons []models.AddonSelection,
	promoCode string,
	customerID uuid.UUID,
) (models.PriceBreakdown, *PromoResult, error) {
	breakdown := s.pricing.ComputeQuote(tour, party, accommodations, addons)

	if strings.TrimSpace(promoCode) == "" {
		return breakdown, nil, nil
	}

	result, err := s.promos.Validate(ctx, promoCode, tour.ID, tour.AgentID, breakdown.PreDiscountTotal(), customerID)
	if err != nil {
		return models.PriceBreakdown{}, nil, err
	}
	if result.Valid {
		breakdown = s.pricing.ApplyDiscount(breakdown, result.DiscountAmount, result.PromoCode.Code)
	}
	return breakdown, result, nil
}

// ============================================================================
// CREATE
// ============================================================================

// CreateBookingRequest is a checkout submission
type CreateBookingRequest struct {
	TourID         uuid.UUID
	StartDate      time.Time
	Party          models.PartyComposition
	Accommodations []models.AccommodationSelection
	Addons         []models.AddonSelection
	PromoCode      string
	Contact        models.Contact
	Travelers      []models.Traveler
	PaymentType    models.PaymentType
	CustomerID     uuid.UUID
	IdempotencyKey string
}

// CreateBooking validates a checkout, prices it server-side and persists the
// booking in pending_payment. A repeated idempotency key returns the booking
// created the first time.
func (s *BookingService) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if req.IdempotencyKey != "" {
		existing, err := s.bookings.GetBookingByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
		if existing != nil {
			s.logger.WithFields(logrus.Fields{
				"booking_id":  existing.ID,
				"customer_id": req.CustomerID,
			}).Info("Returning existing booking for idempotency key")
			return existing, nil
		}
	}

	tour, err := s.loadTour(ctx, req.TourID)
	if err != nil {
		return nil, err
	}

	contact, travelers, verr := s.validateCheckout(tour, &req)
	if err := verr.OrNil(); err != nil {
		s.logger.WithFields(logrus.Fields{
			"tour_id": req.TourID,
			"fields":  len(verr.Fields),
		}).Info("Checkout rejected by validation")
		return nil, err
	}

	breakdown, promoResult, err := s.price(ctx, tour, req.Party, req.Accommodations, req.Addons, req.PromoCode, req.CustomerID)
	if err != nil {
		return nil, err
	}
	if rejection := promoResult.Rejection(); rejection != nil {
		return nil, rejection
	}
	// a zero-total booking could never be paid, so it would never confirm
	if breakdown.Total <= 0 {
		return nil, reject(RejectNotPayable, "the discount covers the whole booking, nothing would be left to pay")
	}

	now := s.now()
	startDate := truncateToDate(req.StartDate)
	booking := &models.Booking{
		ID:            uuid.New(),
		TourID:        tour.ID,
		AgentID:       tour.AgentID,
		CustomerID:    req.CustomerID,
		StartDate:     startDate,
		EndDate:       tour.EndDate(startDate),
		Party:         req.Party,
		Selections:    models.Selections{Accommodations: req.Accommodations, Addons: req.Addons},
		Pricing:       breakdown,
		Currency:      breakdown.Currency,
		TotalAmount:   breakdown.Total,
		PaymentType:   models.PaymentTypeFull,
		Status:        models.BookingStatusPendingPayment,
		PaymentStatus: models.PaymentStatusNotInitiated,
		Contact:       contact,
		Travelers:     travelers,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if booking.Currency == "" {
		booking.Currency = s.config.DefaultCurrency
		booking.Pricing.Currency = booking.Currency
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		booking.IdempotencyKey = &key
	}
	if promoResult != nil && promoResult.Valid {
		promoID := promoResult.PromoCode.ID
		code := promoResult.PromoCode.Code
		booking.PromoCodeID = &promoID
		booking.PromoCode = &code
	}

	s.applyPaymentType(booking, tour, req.PaymentType)

	if err := s.insertBooking(ctx, booking, now); err != nil {
		// lost a race with a concurrent request carrying the same key
		if errors.Is(err, models.ErrDuplicateBooking) && !errors.Is(err, models.ErrDuplicateReference) && req.IdempotencyKey != "" {
			existing, getErr := s.bookings.GetBookingByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if getErr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"booking_id":   booking.ID,
		"reference":    booking.Reference,
		"tour_id":      booking.TourID,
		"total":        booking.TotalAmount,
		"currency":     booking.Currency,
		"payment_type": booking.PaymentType,
		"promo_code":   booking.Pricing.PromoCode,
	}).Info("Booking created")

	return booking, nil
}

// insertBooking assigns a reference and stores the booking. A reference taken
// between the existence check and the insert is replaced and retried.
func (s *BookingService) insertBooking(ctx context.Context, booking *models.Booking, now time.Time) error {
	attempts := s.config.MaxReferenceAttempts
	if attempts <= 0 {
		attempts = 10
	}

	var err error
	for i := 0; i < attempts; i++ {
		booking.Reference, err = s.generateReference(ctx, now)
		if err != nil {
			return err
		}
		err = s.bookings.CreateBooking(ctx, booking)
		if !errors.Is(err, models.ErrDuplicateReference) {
			return err
		}
		s.logger.WithField("reference", booking.Reference).Warn("Booking reference taken concurrently, retrying")
	}
	return err
}

// applyPaymentType sets the deposit split, or forces full payment when the
// tour cannot take a deposit for this total
func (s *BookingService) applyPaymentType(b *models.Booking, tour *models.Tour, requested models.PaymentType) {
	if requested != models.PaymentTypeDeposit || !tour.SupportsDeposit() {
		b.PaymentType = models.PaymentTypeFull
		return
	}

	deposit, balance := models.SplitDeposit(b.TotalAmount, tour.DepositPercentage)
	if deposit <= 0 || balance <= 0 {
		b.PaymentType = models.PaymentTypeFull
		return
	}

	due := tour.BalanceDueDate(b.StartDate)
	b.PaymentType = models.PaymentTypeDeposit
	b.DepositAmount = &deposit
	b.BalanceAmount = &balance
	b.BalanceDueDate = &due
}

// validateCheckout collects every field error of a checkout
func (s *BookingService) validateCheckout(tour *models.Tour, req *CreateBookingRequest) (models.Contact, models.Travelers, *ValidationError) {
	verr := &ValidationError{}

	if req.CustomerID == uuid.Nil {
		verr.Add("customer_id", "is required")
	}

	validateParty(verr, req.Party)

	if req.StartDate.IsZero() {
		verr.Add("start_date", "is required")
	} else {
		today := truncateToDate(s.now())
		start := truncateToDate(req.StartDate)
		if start.Before(today) || (!s.config.AllowSameDayDeparture && start.Equal(today)) {
			verr.Add("start_date", "must be a future date")
		}
	}

	switch req.PaymentType {
	case models.PaymentTypeFull, models.PaymentTypeDeposit:
	case "":
		req.PaymentType = models.PaymentTypeFull
	default:
		verr.Add("payment_type", "must be full or deposit")
	}

	contact := models.Contact{
		Name:  strings.TrimSpace(req.Contact.Name),
		Email: strings.TrimSpace(req.Contact.Email),
		Phone: strings.TrimSpace(req.Contact.Phone),
	}
	s.collectStructErrors(verr, "contact", contact)
	if contact.Phone != "" {
		sanitized, err := s.phones.Validate(contact.Phone)
		if err != nil {
			verr.Add("contact.phone", err.Error())
		} else {
			contact.Phone = sanitized
		}
	}

	travelers := make(models.Travelers, 0, len(req.Travelers))
	if len(req.Travelers) == 0 {
		verr.Add("travelers", "at least one traveler is required")
	}
	if req.Party.Total() > 0 && len(req.Travelers) > req.Party.Total() {
		verr.Add("travelers", fmt.Sprintf("cannot list more than %d travelers", req.Party.Total()))
	}
	for i, tr := range req.Travelers {
		tr.FirstName = strings.TrimSpace(tr.FirstName)
		tr.LastName = strings.TrimSpace(tr.LastName)
		s.collectStructErrors(verr, fmt.Sprintf("travelers[%d]", i), tr)
		travelers = append(travelers, tr)
	}

	for i, sel := range req.Accommodations {
		if _, ok := tour.Accommodations.FindAccommodation(sel.OptionID); !ok {
			verr.Add(fmt.Sprintf("accommodations[%d].option_id", i), "is not offered on this tour")
		}
	}
	for i, sel := range req.Addons {
		if _, ok := tour.Addons.FindAddon(sel.AddonID); !ok {
			verr.Add(fmt.Sprintf("addons[%d].addon_id", i), "is not offered on this tour")
		} else if sel.Quantity < 1 {
			verr.Add(fmt.Sprintf("addons[%d].quantity", i), "must be at least 1")
		}
	}

	return contact, travelers, verr
}

func validateParty(verr *ValidationError, party models.PartyComposition) {
	if party.Adults < 1 {
		verr.Add("party.adults", "at least one adult is required")
	}
	if party.Children < 0 {
		verr.Add("party.children", "cannot be negative")
	}
	if party.Infants < 0 {
		verr.Add("party.infants", "cannot be negative")
	}
}

func (s *BookingService) collectStructErrors(verr *ValidationError, prefix string, v interface{}) {
	err := s.validate.Struct(v)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verr.Add(prefix, err.Error())
		return
	}
	for _, fe := range fieldErrs {
		verr.Add(prefix+"."+fe.Field(), fieldMessage(fe))
	}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	default:
		return "is invalid"
	}
}

// generateReference returns an unused SF-YYYYMMDD-XXXXXX reference
func (s *BookingService) generateReference(ctx context.Context, now time.Time) (string, error) {
	attempts := s.config.MaxReferenceAttempts
	if attempts <= 0 {
		attempts = 10
	}
	for i := 0; i < attempts; i++ {
		suffix, err := randomHex(3)
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		ref := fmt.Sprintf("%s-%s-%s", s.config.ReferencePrefix, now.Format("20060102"), strings.ToUpper(suffix))

		exists, err := s.bookings.ReferenceExists(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check booking reference: %w", err)
		}
		if !exists {
			return ref, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique booking reference after %d attempts", attempts)
}

// ============================================================================
// READ & CANCEL
// ============================================================================

// GetBooking returns a booking owned by customerID
func (s *BookingService) GetBooking(ctx context.Context, bookingID, customerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetBookingByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil || (customerID != uuid.Nil && booking.CustomerID != customerID) {
		return nil, &NotFoundError{Resource: "booking", Key: bookingID.String()}
	}
	return booking, nil
}

// CancelBooking cancels a booking that has not been confirmed. Promo usage
// and refunds are not touched.
func (s *BookingService) CancelBooking(ctx context.Context, bookingID, customerID uuid.UUID) (*models.Booking, error) {
	booking, err := s.GetBooking(ctx, bookingID, customerID)
	if err != nil {
		return nil, err
	}

	if booking.Status == models.BookingStatusCancelled {
		return booking, nil
	}
	if !booking.CanCancel() {
		return nil, reject(RejectNotCancellable, "booking %s cannot be cancelled in status %s", booking.Reference, booking.Status)
	}

	now := s.now()
	ok, err := s.bookings.TransitionStatus(ctx, booking.ID, models.StatusesAllowing(models.BookingStatusCancelled), models.BookingStatusCancelled, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel booking: %w", err)
	}
	if !ok {
		// Someone moved the booking first; report its current state
		current, err := s.GetBooking(ctx, bookingID, customerID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.BookingStatusCancelled {
			return current, nil
		}
		return nil, reject(RejectNotCancellable, "booking %s cannot be cancelled in status %s", current.Reference, current.Status)
	}

	booking.Status = models.BookingStatusCancelled
	booking.CancelledAt = &now
	booking.UpdatedAt = now

	s.logger.WithFields(logrus.Fields{
		"booking_id": booking.ID,
		"reference":  booking.Reference,
	}).Info("Booking cancelled")

	return booking, nil
}

func (s *BookingService) loadTour(ctx context.Context, tourID uuid.UUID) (*models.Tour, error) {
	tour, err := s.tours.GetTourByID(ctx, tourID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tour: %w", err)
	}
	if tour == nil {
		return nil, &NotFoundError{Resource: "tour", Key: tourID.String()}
	}
	if !tour.IsActive {
		return nil, reject(RejectTourUnavailable, "tour %s is not currently bookable", tour.Title)
	}
	return tour, nil
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
