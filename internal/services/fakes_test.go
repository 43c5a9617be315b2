package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory implementation of every store interface. Reads
// return copies so services cannot mutate stored rows by accident.
type memStore struct {
	mu          sync.Mutex
	tours       map[uuid.UUID]*models.Tour
	promos      map[uuid.UUID]*models.PromoCode
	redemptions []models.PromoRedemption
	bookings    map[uuid.UUID]*models.Booking
	attempts    map[uuid.UUID]*models.PaymentAttempt
	audits      []*models.PaymentAudit

	// errs makes the named method fail
	errs map[string]error
	// referenceRaces makes the next n booking inserts lose the reference to
	// a concurrent writer
	referenceRaces int
}

func newMemStore() *memStore {
	return &memStore{
		tours:    make(map[uuid.UUID]*models.Tour),
		promos:   make(map[uuid.UUID]*models.PromoCode),
		bookings: make(map[uuid.UUID]*models.Booking),
		attempts: make(map[uuid.UUID]*models.PaymentAttempt),
		errs:     make(map[string]error),
	}
}

func (m *memStore) fail(method string) error {
	return m.errs[method]
}

func (m *memStore) addTour(t *models.Tour) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tours[t.ID] = t
}

func (m *memStore) addPromo(p *models.PromoCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promos[p.ID] = p
}

// TourStore

func (m *memStore) GetTourByID(ctx context.Context, id uuid.UUID) (*models.Tour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetTourByID"); err != nil {
		return nil, err
	}
	t, ok := m.tours[id]
	if !ok {
		return nil, nil
	}
	c := *t
	return &c, nil
}

// PromoCodeStore

func (m *memStore) GetPromoCodeByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetPromoCodeByCode"); err != nil {
		return nil, err
	}
	for _, p := range m.promos {
		if p.Code == code {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetPromoCodeByID(ctx context.Context, id uuid.UUID) (*models.PromoCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.promos[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *memStore) CountCustomerRedemptions(ctx context.Context, promoCodeID, customerID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.countRedemptionsLocked(promoCodeID, customerID), nil
}

func (m *memStore) countRedemptionsLocked(promoCodeID, customerID uuid.UUID) int {
	n := 0
	for _, r := range m.redemptions {
		if r.PromoCodeID == promoCodeID && r.CustomerID == customerID {
			n++
		}
	}
	return n
}

// BookingStore

func (m *memStore) CreateBooking(ctx context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("CreateBooking"); err != nil {
		return err
	}
	if m.referenceRaces > 0 {
		m.referenceRaces--
		return models.ErrDuplicateReference
	}
	for _, existing := range m.bookings {
		if existing.Reference == b.Reference {
			return models.ErrDuplicateReference
		}
		if b.IdempotencyKey != nil && existing.IdempotencyKey != nil &&
			existing.CustomerID == b.CustomerID && *existing.IdempotencyKey == *b.IdempotencyKey {
			return fmt.Errorf("%w: idempotency key", models.ErrDuplicateBooking)
		}
	}
	c := *b
	m.bookings[b.ID] = &c
	return nil
}

func (m *memStore) GetBookingByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("GetBookingByID"); err != nil {
		return nil, err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	c := *b
	return &c, nil
}

func (m *memStore) GetBookingByIdempotencyKey(ctx context.Context, customerID uuid.UUID, key string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.CustomerID == customerID && b.IdempotencyKey != nil && *b.IdempotencyKey == key {
			c := *b
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bookings {
		if b.Reference == reference {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.BookingStatus, to models.BookingStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || !containsStatus(from, b.Status) {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	if to == models.BookingStatusCancelled {
		b.CancelledAt = &at
	}
	return true, nil
}

func (m *memStore) MarkPaymentPending(ctx context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok || b.Status != models.BookingStatusPendingPayment || b.PaymentStatus != models.PaymentStatusNotInitiated {
		return false, nil
	}
	b.PaymentStatus = models.PaymentStatusPending
	return true, nil
}

// PaymentAttemptStore

func (m *memStore) CreateAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.attempts {
		if existing.MerchantReference == a.MerchantReference {
			return errors.New("duplicate merchant reference")
		}
	}
	c := *a
	m.attempts[a.ID] = &c
	return nil
}

func (m *memStore) GetAttemptByMerchantReference(ctx context.Context, reference string) (*models.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.MerchantReference == reference {
			c := *a
			return &c, nil
		}
	}
	return nil, nil
}

func (m *memStore) AttachGatewaySession(ctx context.Context, attemptID uuid.UUID, trackingID, statusIndicator string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok {
		return fmt.Errorf("attempt %s not found", attemptID)
	}
	if trackingID != "" {
		a.ExternalTrackingID = &trackingID
	}
	if statusIndicator != "" {
		a.StatusIndicator = &statusIndicator
	}
	return nil
}

func (m *memStore) MarkAttemptFailed(ctx context.Context, attemptID uuid.UUID, reason, trackingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.attempts[attemptID]
	if !ok || a.Status != models.AttemptStatusPending {
		return false, nil
	}
	a.Status = models.AttemptStatusFailed
	a.FailureReason = &reason
	if trackingID != "" {
		a.ExternalTrackingID = &trackingID
	}
	return true, nil
}

// ApplySettlement mirrors the guarded writes of the SQL transaction
func (m *memStore) ApplySettlement(ctx context.Context, plan models.SettlementPlan, audits []*models.PaymentAudit) (models.SettlementOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("ApplySettlement"); err != nil {
		return models.SettlementOutcome{}, err
	}

	a, ok := m.attempts[plan.AttemptID]
	if !ok || a.Status != models.AttemptStatusPending {
		return models.SettlementOutcome{Applied: false}, nil
	}

	b, ok := m.bookings[plan.BookingID]
	if !ok || b.Status != plan.FromStatus || !containsPaymentStatus(plan.FromPaymentStatuses, b.PaymentStatus) {
		return models.SettlementOutcome{}, models.ErrStateConflict
	}
	for _, other := range m.attempts {
		if other.BookingID == plan.BookingID && other.Bucket == plan.Bucket && other.Status == models.AttemptStatusCompleted {
			return models.SettlementOutcome{}, models.ErrStateConflict
		}
	}

	outcome := models.SettlementOutcome{Applied: true}

	a.Status = models.AttemptStatusCompleted
	a.CompletedAt = &plan.SettledAt
	if plan.TrackingID != "" {
		tid := plan.TrackingID
		a.ExternalTrackingID = &tid
	}

	b.Status = plan.ToStatus
	b.PaymentStatus = plan.ToPaymentStatus
	b.UpdatedAt = plan.SettledAt
	if plan.MarkConfirmed {
		b.ConfirmedAt = &plan.SettledAt
	}
	if plan.MarkBalancePaid {
		b.BalancePaidAt = &plan.SettledAt
	}

	if r := plan.Redemption; r != nil {
		p := m.promos[r.PromoCodeID]
		duplicate := false
		for _, existing := range m.redemptions {
			if existing.PromoCodeID == r.PromoCodeID && existing.BookingID == r.BookingID {
				duplicate = true
			}
		}
		switch {
		case duplicate:
		case p == nil,
			p.MaxUses != nil && p.UsedCount >= *p.MaxUses,
			p.UsesPerUser > 0 && m.countRedemptionsLocked(r.PromoCodeID, r.CustomerID) >= p.UsesPerUser:
			outcome.PromoRejected = true
		default:
			p.UsedCount++
			m.redemptions = append(m.redemptions, *r)
			outcome.PromoRedeemed = true
		}
	}

	m.audits = append(m.audits, audits...)
	return outcome, nil
}

func (m *memStore) ListStalePendingAttempts(ctx context.Context, createdBefore time.Time, limit int) ([]*models.PaymentAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.PaymentAttempt
	for _, a := range m.attempts {
		if a.Status == models.AttemptStatusPending && a.CreatedAt.Before(createdBefore) {
			c := *a
			out = append(out, &c)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// PaymentAuditStore

func (m *memStore) Log(ctx context.Context, audit *models.PaymentAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail("Log"); err != nil {
		return err
	}
	m.audits = append(m.audits, audit)
	return nil
}

// helpers for assertions

func (m *memStore) booking(id uuid.UUID) models.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.bookings[id]
}

func (m *memStore) attemptByRef(ref string) models.PaymentAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.attempts {
		if a.MerchantReference == ref {
			return *a
		}
	}
	return models.PaymentAttempt{}
}

func (m *memStore) promo(id uuid.UUID) models.PromoCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.promos[id]
}

func (m *memStore) auditCount(event models.PaymentEventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.audits {
		if a.EventType == event {
			n++
		}
	}
	return n
}

func containsStatus(list []models.BookingStatus, s models.BookingStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsPaymentStatus(list []models.PaymentStatus, s models.PaymentStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// fakeGateway is a scripted payment gateway
type fakeGateway struct {
	mu          sync.Mutex
	initiateErr error
	queryErr    error
	statuses    map[string]*GatewayStatus // by tracking id
	initiated   []InitiateRequest
	queries     int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{statuses: make(map[string]*GatewayStatus)}
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Initiate(ctx context.Context, req InitiateRequest) (*GatewaySession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initiated = append(g.initiated, req)
	if g.initiateErr != nil {
		return nil, g.initiateErr
	}
	return &GatewaySession{
		RedirectURL:     "https://pay.example.com/checkout/" + req.MerchantReference,
		TrackingID:      "trk-" + req.MerchantReference,
		StatusIndicator: "si-" + req.MerchantReference,
	}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, query StatusQuery) (*GatewayStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.queries++
	if g.queryErr != nil {
		return nil, g.queryErr
	}
	if st, ok := g.statuses[query.TrackingID]; ok {
		c := *st
		return &c, nil
	}
	return &GatewayStatus{Status: GatewayStatusPending, RawStatus: "pending"}, nil
}

func (g *fakeGateway) report(trackingID string, status GatewayPaymentStatus, amount int64, currency string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statuses[trackingID] = &GatewayStatus{
		Status:    status,
		Amount:    amount,
		Currency:  currency,
		RawStatus: string(status),
	}
}

func (g *fakeGateway) queryCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.queries
}

// fakeNotifier records confirmations
type fakeNotifier struct {
	mu        sync.Mutex
	err       error
	confirmed []uuid.UUID
	// release, when set, holds every notice until it is closed
	release chan struct{}
}

func (n *fakeNotifier) BookingConfirmed(ctx context.Context, b *models.Booking) error {
	if n.release != nil {
		<-n.release
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, b.ID)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.confirmed)
}

// ============================================================================
// FIXTURES
// ============================================================================

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func safariTour() *models.Tour {
	return &models.Tour{
		ID:           uuid.New(),
		AgentID:      uuid.New(),
		Title:        "Masai Mara Classic",
		Currency:     "USD",
		BasePrice:    100000, // $1000
		DurationDays: 4,
		Accommodations: models.AccommodationCatalog{
			{ID: "lodge", Name: "Serena Lodge", NightlyPrice: 25000},
			{ID: "tent", Name: "Luxury Tent", NightlyPrice: 40000},
		},
		Addons: models.AddonCatalog{
			{ID: "balloon", Name: "Balloon safari", Price: 45000},
		},
		FreeCancellationDays: 14,
		IsActive:             true,
	}
}

func depositTour(pct int) *models.Tour {
	t := safariTour()
	t.DepositEnabled = true
	t.DepositPercentage = pct
	return t
}

func fixedPromo(agentID uuid.UUID, code string, amount int64) *models.PromoCode {
	return &models.PromoCode{
		ID:           uuid.New(),
		Code:         code,
		AgentID:      agentID,
		DiscountType: models.DiscountTypeFixed,
		AmountOff:    &amount,
		ValidFrom:    testNow.AddDate(0, -1, 0),
		IsActive:     true,
	}
}

func percentPromo(agentID uuid.UUID, code, percent string, limit *int64) *models.PromoCode {
	return &models.PromoCode{
		ID:                uuid.New(),
		Code:              code,
		AgentID:           agentID,
		DiscountType:      models.DiscountTypePercentage,
		PercentOff:        decimal.NewNullDecimal(decimal.RequireFromString(percent)),
		MaxDiscountAmount: limit,
		ValidFrom:         testNow.AddDate(0, -1, 0),
		IsActive:          true,
	}
}

func validCheckout(tourID, customerID uuid.UUID) CreateBookingRequest {
	return CreateBookingRequest{
		TourID:     tourID,
		CustomerID: customerID,
		StartDate:  testNow.AddDate(0, 1, 0),
		Party:      models.PartyComposition{Adults: 2},
		Contact: models.Contact{
			Name:  "Amina Otieno",
			Email: "amina@example.com",
			Phone: "+254 712 345 678",
		},
		Travelers: []models.Traveler{
			{FirstName: "Amina", LastName: "Otieno"},
			{FirstName: "Daniel", LastName: "Otieno"},
		},
		PaymentType: models.PaymentTypeFull,
	}
}

// testEnv wires every service over one memStore with a fixed clock
type testEnv struct {
	store      *memStore
	gateway    *fakeGateway
	notifier   *fakeNotifier
	pricing    *PricingService
	promos     *PromoService
	bookings   *BookingService
	settlement *SettlementService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore()
	gateway := newFakeGateway()
	notifier := &fakeNotifier{}
	logger := testLogger()

	pricing := NewPricingService(DefaultPricingConfig())
	promos := NewPromoService(store, logger)
	promos.now = func() time.Time { return testNow }

	bookings := NewBookingService(store, store, pricing, promos, DefaultBookingConfig(), logger)
	bookings.now = func() time.Time { return testNow }

	cfg := DefaultSettlementConfig()
	cfg.CallbackURL = "https://api.example.com/api/v1/payments/callback"
	cfg.ReturnURL = "https://safaritrail.example.com/bookings/return"
	settlement := NewSettlementService(store, store, store, promos, gateway, notifier, cfg, logger)
	settlement.now = func() time.Time { return testNow }

	return &testEnv{
		store:      store,
		gateway:    gateway,
		notifier:   notifier,
		pricing:    pricing,
		promos:     promos,
		bookings:   bookings,
		settlement: settlement,
	}
}

// notifications waits for in-flight confirmation notices and counts them
func (e *testEnv) notifications() int {
	e.settlement.Wait()
	return e.notifier.count()
}

func (e *testEnv) createBooking(t *testing.T, req CreateBookingRequest) *models.Booking {
	t.Helper()
	b, err := e.bookings.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	return b
}

func (e *testEnv) initiate(t *testing.T, b *models.Booking, bucket models.AmountBucket) *InitiatePaymentResult {
	t.Helper()
	res, err := e.settlement.InitiatePayment(context.Background(), InitiatePaymentRequest{
		BookingID:  b.ID,
		Bucket:     bucket,
		CustomerID: b.CustomerID,
	})
	require.NoError(t, err, "InitiatePayment(%s)", bucket)
	return res
}

func (e *testEnv) callback(t *testing.T, merchantRef string) *ReconcileResult {
	t.Helper()
	res, err := e.settlement.ReconcileCallback(context.Background(), CallbackRequest{
		TrackingID:        "trk-" + merchantRef,
		MerchantReference: merchantRef,
	})
	require.NoError(t, err, "ReconcileCallback(%s)", merchantRef)
	return res
}

func intPtr(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }
