package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/sirupsen/logrus"
)

// SettlementConfig holds gateway URLs and timeouts
type SettlementConfig struct {
	CallbackURL string
	ReturnURL   string
	CancelURL   string

	InitiateTimeout time.Duration
	QueryTimeout    time.Duration
	NotifyTimeout   time.Duration

	// Re-poll job
	StaleAfter      time.Duration
	RepollBatchSize int
}

// DefaultSettlementConfig returns default configuration
func DefaultSettlementConfig() SettlementConfig {
	return SettlementConfig{
		InitiateTimeout: 15 * time.Second,
		QueryTimeout:    10 * time.Second,
		NotifyTimeout:   10 * time.Second,
		StaleAfter:      15 * time.Minute,
		RepollBatchSize: 50,
	}
}

const maxMerchantReferenceAttempts = 10

// ReconcileOutcome is what a callback did to its attempt
type ReconcileOutcome string

const (
	OutcomePaymentVerified ReconcileOutcome = "payment_verified"
	OutcomePaymentFailed   ReconcileOutcome = "payment_failed"
	OutcomePending         ReconcileOutcome = "pending"
)

// SettlementService initiates gateway payments and reconciles their callbacks
type SettlementService struct {
	bookings BookingStore
	attempts PaymentAttemptStore
	audits   PaymentAuditStore
	promos   *PromoService
	gateway  PaymentGateway
	notifier Notifier
	config   SettlementConfig
	logger   *logrus.Logger
	now      func() time.Time

	// in-flight confirmation notices
	notices sync.WaitGroup
}

// NewSettlementService creates a new SettlementService. notifier may be nil.
func NewSettlementService(
	bookings BookingStore,
	attempts PaymentAttemptStore,
	audits PaymentAuditStore,
	promos *PromoService,
	gateway PaymentGateway,
	notifier Notifier,
	config SettlementConfig,
	logger *logrus.Logger,
) *SettlementService {
	return &SettlementService{
		bookings: bookings,
		attempts: attempts,
		audits:   audits,
		promos:   promos,
		gateway:  gateway,
		notifier: notifier,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// ============================================================================
// INITIATE
// ============================================================================

// InitiatePaymentRequest asks for a gateway checkout for one bucket
type InitiatePaymentRequest struct {
	BookingID  uuid.UUID
	Bucket     models.AmountBucket
	CustomerID uuid.UUID
	IPAddress  string
	UserAgent  string
}

// InitiatePaymentResult is returned to the client to redirect to the gateway
type InitiatePaymentResult struct {
	AttemptID         uuid.UUID           `json:"attempt_id"`
	MerchantReference string              `json:"merchant_reference"`
	RedirectURL       string              `json:"redirect_url"`
	Bucket            models.AmountBucket `json:"bucket"`
	Amount            int64               `json:"amount"`
	Currency          string              `json:"currency"`
	Gateway           string              `json:"gateway"`
}

// InitiatePayment opens a gateway checkout for the amount due on one bucket.
// The attempt is stored before the gateway is called so a callback can always
// be matched.
func (s *SettlementService) InitiatePayment(ctx context.Context, req InitiatePaymentRequest) (*InitiatePaymentResult, error) {
	booking, err := s.bookings.GetBookingByID(ctx, req.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, &NotFoundError{Resource: "booking", Key: req.BookingID.String()}
	}
	if req.CustomerID != uuid.Nil && booking.CustomerID != req.CustomerID {
		return nil, reject(RejectNotOwner, "booking %s belongs to another customer", booking.Reference)
	}

	obligation, err := booking.Obligation(req.Bucket)
	if err != nil {
		return nil, obligationRejection(booking, req.Bucket, err)
	}

	// A promo can run out between booking and payment
	if req.Bucket != models.BucketBalance && booking.PromoCodeID != nil {
		ok, err := s.promos.HasCapacity(ctx, *booking.PromoCodeID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, reject(RejectPromoExhausted, "promo code %s has reached its usage limit", stringValue(booking.PromoCode))
		}
	}

	merchantRef, err := s.generateMerchantReference(ctx, booking.Reference, req.Bucket)
	if err != nil {
		return nil, err
	}

	now := s.now()
	attempt := &models.PaymentAttempt{
		ID:                uuid.New(),
		BookingID:         booking.ID,
		Bucket:            req.Bucket,
		MerchantReference: merchantRef,
		Gateway:           s.gateway.Name(),
		Amount:            obligation.Amount,
		Currency:          obligation.Currency,
		Status:            models.AttemptStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.attempts.CreateAttempt(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to create payment attempt: %w", err)
	}

	initCtx, cancel := context.WithTimeout(ctx, s.config.InitiateTimeout)
	defer cancel()

	session, err := s.gateway.Initiate(initCtx, InitiateRequest{
		MerchantReference: merchantRef,
		Amount:            obligation.Amount,
		Currency:          obligation.Currency,
		Description:       fmt.Sprintf("%s %s payment", booking.Reference, req.Bucket),
		CallbackURL:       s.config.CallbackURL,
		ReturnURL:         s.config.ReturnURL,
		CancelURL:         s.config.CancelURL,
		Customer:          booking.Contact,
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id":         booking.ID,
			"merchant_reference": merchantRef,
			"gateway":            attempt.Gateway,
			"error":              err.Error(),
		}).Error("Payment gateway initiate failed")

		if _, markErr := s.attempts.MarkAttemptFailed(ctx, attempt.ID, models.FailureGatewayUnavailable, ""); markErr != nil {
			s.logger.WithError(markErr).WithField("attempt_id", attempt.ID).Error("Failed to mark attempt failed")
		}
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventInitiateFailed, models.PaymentSourceBackend).
			SetAttempt(attempt).
			SetError(err.Error()).
			SetMetadata(req.IPAddress, req.UserAgent))

		return nil, &TransientGatewayError{Op: "initiate", Err: err}
	}

	if err := s.attempts.AttachGatewaySession(ctx, attempt.ID, session.TrackingID, session.StatusIndicator); err != nil {
		return nil, fmt.Errorf("failed to store gateway session: %w", err)
	}
	if session.TrackingID != "" {
		tid := session.TrackingID
		attempt.ExternalTrackingID = &tid
	}

	if booking.PaymentStatus == models.PaymentStatusNotInitiated {
		if _, err := s.bookings.MarkPaymentPending(ctx, booking.ID); err != nil {
			s.logger.WithError(err).WithField("booking_id", booking.ID).Warn("Failed to mark booking payment pending")
		}
	}

	audit := models.NewPaymentAudit(models.PaymentEventInitiated, models.PaymentSourceBackend).
		SetAttempt(attempt).
		SetDetail("bucket", string(req.Bucket)).
		SetMetadata(req.IPAddress, req.UserAgent)
	audit.SetAmounts(obligation.Amount, obligation.Amount, obligation.Currency)
	s.logAudit(ctx, audit)

	s.logger.WithFields(logrus.Fields{
		"booking_id":         booking.ID,
		"merchant_reference": merchantRef,
		"bucket":             req.Bucket,
		"amount":             obligation.Amount,
		"currency":           obligation.Currency,
		"gateway":            attempt.Gateway,
	}).Info("Payment initiated")

	return &InitiatePaymentResult{
		AttemptID:         attempt.ID,
		MerchantReference: merchantRef,
		RedirectURL:       session.RedirectURL,
		Bucket:            req.Bucket,
		Amount:            obligation.Amount,
		Currency:          obligation.Currency,
		Gateway:           attempt.Gateway,
	}, nil
}

func obligationRejection(b *models.Booking, bucket models.AmountBucket, err error) error {
	switch {
	case errors.Is(err, models.ErrBucketNotApplicable):
		return reject(RejectBucketNotAllowed, "%s payment is not available for booking %s", bucket, b.Reference)
	case errors.Is(err, models.ErrBucketSettled):
		return reject(RejectBucketSettled, "the %s payment for booking %s has already been made", bucket, b.Reference)
	case errors.Is(err, models.ErrDepositOutstanding):
		return reject(RejectDepositOutstanding, "the deposit for booking %s must be paid before the balance", b.Reference)
	case errors.Is(err, models.ErrBookingNotPayable):
		return reject(RejectNotPayable, "booking %s cannot be paid in status %s", b.Reference, b.Status)
	case errors.Is(err, models.ErrNothingToPay):
		return reject(RejectNotPayable, "booking %s has nothing to pay", b.Reference)
	}
	return err
}

// generateMerchantReference returns an unused <booking ref>-<bucket code>-<hex>
func (s *SettlementService) generateMerchantReference(ctx context.Context, bookingRef string, bucket models.AmountBucket) (string, error) {
	for i := 0; i < maxMerchantReferenceAttempts; i++ {
		suffix, err := randomHex(2)
		if err != nil {
			return "", fmt.Errorf("failed to generate merchant reference: %w", err)
		}
		ref := fmt.Sprintf("%s-%s-%s", bookingRef, bucket.Code(), strings.ToUpper(suffix))

		existing, err := s.attempts.GetAttemptByMerchantReference(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("failed to check merchant reference: %w", err)
		}
		if existing == nil {
			return ref, nil
		}
	}
	return "", fmt.Errorf("failed to generate unique merchant reference after %d attempts", maxMerchantReferenceAttempts)
}

// ============================================================================
// RECONCILE
// ============================================================================

// CallbackRequest is a gateway notification or a re-poll of one attempt
type CallbackRequest struct {
	TrackingID        string
	MerchantReference string
	Source            models.PaymentEventSource
	IPAddress         string
	UserAgent         string
}

// ReconcileResult reports the attempt outcome and the booking state after it
type ReconcileResult struct {
	Outcome           ReconcileOutcome     `json:"outcome"`
	AlreadyProcessed  bool                 `json:"already_processed"`
	MerchantReference string               `json:"merchant_reference"`
	Bucket            models.AmountBucket  `json:"bucket"`
	BookingID         uuid.UUID            `json:"booking_id"`
	BookingReference  string               `json:"booking_reference"`
	BookingStatus     models.BookingStatus `json:"booking_status"`
	PaymentStatus     models.PaymentStatus `json:"payment_status"`
}

// ReconcileCallback settles an attempt from the gateway's authoritative
// status. The callback payload is only used to find the attempt. Repeated
// callbacks for a settled attempt change nothing.
func (s *SettlementService) ReconcileCallback(ctx context.Context, req CallbackRequest) (*ReconcileResult, error) {
	merchantRef := strings.TrimSpace(req.MerchantReference)
	if merchantRef == "" {
		verr := &ValidationError{}
		verr.Add("merchant_reference", "is required")
		return nil, verr
	}
	if req.Source == "" {
		req.Source = models.PaymentSourceCallback
	}

	attempt, err := s.attempts.GetAttemptByMerchantReference(ctx, merchantRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempt: %w", err)
	}
	if attempt == nil {
		s.logger.WithFields(logrus.Fields{
			"merchant_reference": merchantRef,
			"tracking_id":        req.TrackingID,
			"ip":                 req.IPAddress,
		}).Warn("Callback for unknown merchant reference")
		return nil, &NotFoundError{Resource: "payment attempt", Key: merchantRef}
	}

	log := s.logger.WithFields(logrus.Fields{
		"attempt_id":         attempt.ID,
		"booking_id":         attempt.BookingID,
		"merchant_reference": merchantRef,
		"bucket":             attempt.Bucket,
		"source":             req.Source,
	})

	if attempt.IsTerminal() {
		log.WithField("status", attempt.Status).Info("Callback for already processed attempt")
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventDuplicateCallback, req.Source).
			SetAttempt(attempt).
			SetTrackingID(req.TrackingID).
			SetDetail("attempt_status", string(attempt.Status)).
			SetMetadata(req.IPAddress, req.UserAgent))
		return s.result(ctx, attempt, outcomeFor(attempt.Status), true)
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventCallbackReceived, req.Source).
		SetAttempt(attempt).
		SetTrackingID(req.TrackingID).
		SetMetadata(req.IPAddress, req.UserAgent))

	// The stored id wins over whatever the caller claims
	trackingID := attempt.TrackingID()
	if trackingID == "" {
		trackingID = strings.TrimSpace(req.TrackingID)
	}
	if trackingID == "" {
		log.Warn("No tracking id to query the gateway with")
		return s.result(ctx, attempt, OutcomePending, false)
	}

	queryCtx, cancel := context.WithTimeout(ctx, s.config.QueryTimeout)
	defer cancel()

	status, err := s.gateway.QueryStatus(queryCtx, StatusQuery{
		TrackingID:        trackingID,
		StatusIndicator:   stringValue(attempt.StatusIndicator),
		MerchantReference: merchantRef,
		Currency:          attempt.Currency,
	})
	if err != nil {
		log.WithError(err).Error("Payment status query failed")
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventStatusCheckFailed, models.PaymentSourceGateway).
			SetAttempt(attempt).
			SetTrackingID(trackingID).
			SetError(err.Error()))
		return nil, &TransientGatewayError{Op: "status query", Err: err}
	}

	checked := models.NewPaymentAudit(models.PaymentEventStatusCheckResponse, models.PaymentSourceGateway).
		SetAttempt(attempt).
		SetTrackingID(trackingID).
		SetGatewayStatus(status.RawStatus).
		SetDetail("status", string(status.Status))
	amountsMatch := checked.SetAmounts(attempt.Amount, status.Amount, status.Currency) &&
		strings.EqualFold(status.Currency, attempt.Currency)
	s.logAudit(ctx, checked)

	switch status.Status {
	case GatewayStatusCompleted:
		if !amountsMatch {
			return s.rejectMismatch(ctx, attempt, trackingID, status)
		}
		return s.settle(ctx, attempt, trackingID, status, log)

	case GatewayStatusFailed:
		ok, err := s.attempts.MarkAttemptFailed(ctx, attempt.ID, models.FailureGatewayDeclined, trackingID)
		if err != nil {
			return nil, fmt.Errorf("failed to mark attempt failed: %w", err)
		}
		if !ok {
			log.Info("Attempt settled concurrently, ignoring failure status")
			return s.reloadResult(ctx, attempt)
		}
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventFailed, models.PaymentSourceGateway).
			SetAttempt(attempt).
			SetTrackingID(trackingID).
			SetGatewayStatus(status.RawStatus))
		log.WithField("gateway_status", status.RawStatus).Info("Payment failed at gateway")
		return s.result(ctx, attempt, OutcomePaymentFailed, false)

	default:
		log.WithField("gateway_status", status.RawStatus).Debug("Payment still pending at gateway")
		return s.result(ctx, attempt, OutcomePending, false)
	}
}

// rejectMismatch fails an attempt whose charged amount differs from the obligation
func (s *SettlementService) rejectMismatch(ctx context.Context, attempt *models.PaymentAttempt, trackingID string, status *GatewayStatus) (*ReconcileResult, error) {
	s.logger.WithFields(logrus.Fields{
		"attempt_id":        attempt.ID,
		"expected_amount":   attempt.Amount,
		"expected_currency": attempt.Currency,
		"received_amount":   status.Amount,
		"received_currency": status.Currency,
	}).Error("Gateway amount does not match payment attempt")

	ok, err := s.attempts.MarkAttemptFailed(ctx, attempt.ID, models.FailureAmountMismatch, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if !ok {
		return s.reloadResult(ctx, attempt)
	}

	audit := models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceGateway).
		SetAttempt(attempt).
		SetTrackingID(trackingID).
		SetGatewayStatus(status.RawStatus).
		SetError(fmt.Sprintf("expected %s, gateway reported %s",
			FormatMoney(attempt.Amount, attempt.Currency), FormatMoney(status.Amount, status.Currency)))
	audit.SetAmounts(attempt.Amount, status.Amount, status.Currency)
	s.logAudit(ctx, audit)

	return s.result(ctx, attempt, OutcomePaymentFailed, false)
}

// settle applies a completed attempt to its booking in one transaction
func (s *SettlementService) settle(ctx context.Context, attempt *models.PaymentAttempt, trackingID string, status *GatewayStatus, log *logrus.Entry) (*ReconcileResult, error) {
	booking, err := s.bookings.GetBookingByID(ctx, attempt.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, fmt.Errorf("booking %s of attempt %s does not exist", attempt.BookingID, attempt.ID)
	}

	now := s.now()
	plan, err := models.PlanSettlement(booking, attempt, trackingID, now)
	if err != nil {
		return nil, err
	}

	success := models.NewPaymentAudit(models.PaymentEventSuccess, models.PaymentSourceGateway).
		SetAttempt(attempt).
		SetTrackingID(trackingID).
		SetGatewayStatus(status.RawStatus)
	success.SetAmounts(attempt.Amount, status.Amount, status.Currency)
	audits := []*models.PaymentAudit{success}
	if plan.MarkConfirmed {
		audits = append(audits, models.NewPaymentAudit(models.PaymentEventBookingConfirmed, models.PaymentSourceBackend).
			SetAttempt(attempt).
			SetDetail("payment_status", string(plan.ToPaymentStatus)))
	}
	if plan.MarkBalancePaid {
		audits = append(audits, models.NewPaymentAudit(models.PaymentEventBalanceSettled, models.PaymentSourceBackend).
			SetAttempt(attempt))
	}

	outcome, err := s.attempts.ApplySettlement(ctx, plan, audits)
	if errors.Is(err, ErrStateConflict) {
		return s.settleConflict(ctx, attempt, trackingID, booking, log)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to apply settlement: %w", err)
	}
	if !outcome.Applied {
		log.Info("Attempt settled concurrently")
		return s.reloadResult(ctx, attempt)
	}

	if plan.Redemption != nil {
		s.logPromoOutcome(ctx, attempt, booking, outcome)
	}

	log.WithFields(logrus.Fields{
		"amount":         attempt.Amount,
		"currency":       attempt.Currency,
		"payment_status": plan.ToPaymentStatus,
		"promo_redeemed": outcome.PromoRedeemed,
	}).Info("Payment settled")

	result, err := s.result(ctx, attempt, OutcomePaymentVerified, false)
	if err != nil {
		return nil, err
	}
	if plan.MarkConfirmed {
		s.notifyConfirmed(ctx, booking.ID)
	}
	return result, nil
}

// settleConflict handles a completed charge the booking can no longer accept,
// for example after a cancellation or when another attempt paid the bucket
func (s *SettlementService) settleConflict(ctx context.Context, attempt *models.PaymentAttempt, trackingID string, booking *models.Booking, log *logrus.Entry) (*ReconcileResult, error) {
	log.WithFields(logrus.Fields{
		"booking_status": booking.Status,
		"payment_status": booking.PaymentStatus,
	}).Error("Completed payment cannot be applied to booking, refund required")

	ok, err := s.attempts.MarkAttemptFailed(ctx, attempt.ID, models.FailureBucketNotPayable, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark attempt failed: %w", err)
	}
	if !ok {
		return s.reloadResult(ctx, attempt)
	}

	s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventReconciliationMismatch, models.PaymentSourceBackend).
		SetAttempt(attempt).
		SetTrackingID(trackingID).
		SetError("payment completed but booking no longer accepts it").
		SetDetail("refund_required", true).
		SetDetail("booking_status", string(booking.Status)).
		SetDetail("payment_status", string(booking.PaymentStatus)))

	current, err := s.bookings.GetBookingByID(ctx, attempt.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	outcome := OutcomePaymentFailed
	if current != nil && current.BucketSettled(attempt.Bucket) {
		outcome = OutcomePaymentVerified
	}
	return s.resultFor(attempt, current, outcome, false), nil
}

func (s *SettlementService) logPromoOutcome(ctx context.Context, attempt *models.PaymentAttempt, booking *models.Booking, outcome models.SettlementOutcome) {
	switch {
	case outcome.PromoRedeemed:
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventPromoRedeemed, models.PaymentSourceBackend).
			SetAttempt(attempt).
			SetDetail("promo_code", stringValue(booking.PromoCode)))
	case outcome.PromoRejected:
		s.logger.WithFields(logrus.Fields{
			"booking_id": booking.ID,
			"promo_code": stringValue(booking.PromoCode),
		}).Warn("Promo code usage limit reached at settlement, booking kept its discount")
		s.logAudit(ctx, models.NewPaymentAudit(models.PaymentEventPromoRedemptionDenied, models.PaymentSourceBackend).
			SetAttempt(attempt).
			SetDetail("promo_code", stringValue(booking.PromoCode)).
			SetError("promo code usage limit reached"))
	}
}

// notifyConfirmed sends the confirmation notice in the background after
// commit. It outlives a cancelled request and never fails the reconciliation.
func (s *SettlementService) notifyConfirmed(ctx context.Context, bookingID uuid.UUID) {
	if s.notifier == nil {
		return
	}

	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.NotifyTimeout)
	s.notices.Add(1)
	go func() {
		defer s.notices.Done()
		defer cancel()
		s.sendConfirmation(notifyCtx, bookingID)
	}()
}

// Wait blocks until every confirmation notice in flight has been sent
func (s *SettlementService) Wait() {
	s.notices.Wait()
}

func (s *SettlementService) sendConfirmation(notifyCtx context.Context, bookingID uuid.UUID) {

	booking, err := s.bookings.GetBookingByID(notifyCtx, bookingID)
	if err != nil || booking == nil {
		s.logger.WithField("booking_id", bookingID).WithError(err).Error("Failed to load booking for confirmation notice")
		return
	}
	if err := s.notifier.BookingConfirmed(notifyCtx, booking); err != nil {
		s.logger.WithFields(logrus.Fields{
			"booking_id": bookingID,
			"reference":  booking.Reference,
			"error":      err.Error(),
		}).Error("Booking confirmation notice failed")
	}
}

// reloadResult reports an attempt settled by a concurrent reconciliation
func (s *SettlementService) reloadResult(ctx context.Context, attempt *models.PaymentAttempt) (*ReconcileResult, error) {
	current, err := s.attempts.GetAttemptByMerchantReference(ctx, attempt.MerchantReference)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment attempt: %w", err)
	}
	if current == nil {
		current = attempt
	}
	return s.result(ctx, current, outcomeFor(current.Status), true)
}

func (s *SettlementService) result(ctx context.Context, attempt *models.PaymentAttempt, outcome ReconcileOutcome, alreadyProcessed bool) (*ReconcileResult, error) {
	booking, err := s.bookings.GetBookingByID(ctx, attempt.BookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	return s.resultFor(attempt, booking, outcome, alreadyProcessed), nil
}

func (s *SettlementService) resultFor(attempt *models.PaymentAttempt, booking *models.Booking, outcome ReconcileOutcome, alreadyProcessed bool) *ReconcileResult {
	result := &ReconcileResult{
		Outcome:           outcome,
		AlreadyProcessed:  alreadyProcessed,
		MerchantReference: attempt.MerchantReference,
		Bucket:            attempt.Bucket,
		BookingID:         attempt.BookingID,
	}
	if booking != nil {
		result.BookingReference = booking.Reference
		result.BookingStatus = booking.Status
		result.PaymentStatus = booking.PaymentStatus
	}
	return result
}

func outcomeFor(status models.AttemptStatus) ReconcileOutcome {
	switch status {
	case models.AttemptStatusCompleted:
		return OutcomePaymentVerified
	case models.AttemptStatusFailed:
		return OutcomePaymentFailed
	}
	return OutcomePending
}

// ============================================================================
// RE-POLL
// ============================================================================

// RepollSummary counts what a re-poll run did
type RepollSummary struct {
	Checked  int
	Verified int
	Failed   int
	Pending  int
	Errors   int
}

// RepollStaleAttempts reconciles pending attempts whose callback never
// arrived. Gateway errors leave the attempt for the next run.
func (s *SettlementService) RepollStaleAttempts(ctx context.Context) (RepollSummary, error) {
	var summary RepollSummary

	cutoff := s.now().Add(-s.config.StaleAfter)
	stale, err := s.attempts.ListStalePendingAttempts(ctx, cutoff, s.config.RepollBatchSize)
	if err != nil {
		return summary, fmt.Errorf("failed to list stale attempts: %w", err)
	}

	for _, attempt := range stale {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.Checked++

		// Initiate never reached the gateway
		if attempt.TrackingID() == "" {
			ok, err := s.attempts.MarkAttemptFailed(ctx, attempt.ID, models.FailureGatewayUnavailable, "")
			if err != nil {
				summary.Errors++
				s.logger.WithError(err).WithField("attempt_id", attempt.ID).Error("Failed to expire untracked attempt")
				continue
			}
			if ok {
				summary.Failed++
			}
			continue
		}

		result, err := s.ReconcileCallback(ctx, CallbackRequest{
			MerchantReference: attempt.MerchantReference,
			Source:            models.PaymentSourceSystem,
		})
		if err != nil {
			summary.Errors++
			s.logger.WithFields(logrus.Fields{
				"attempt_id":         attempt.ID,
				"merchant_reference": attempt.MerchantReference,
				"error":              err.Error(),
			}).Warn("Stale attempt re-poll failed")
			continue
		}

		switch result.Outcome {
		case OutcomePaymentVerified:
			summary.Verified++
		case OutcomePaymentFailed:
			summary.Failed++
		default:
			summary.Pending++
		}
	}

	if summary.Checked > 0 {
		s.logger.WithFields(logrus.Fields{
			"checked":  summary.Checked,
			"verified": summary.Verified,
			"failed":   summary.Failed,
			"pending":  summary.Pending,
			"errors":   summary.Errors,
		}).Info("Stale payment attempts re-polled")
	}

	return summary, nil
}

// logAudit writes an audit entry outside a transaction. Failures are logged only.
func (s *SettlementService) logAudit(ctx context.Context, audit *models.PaymentAudit) {
	if err := s.audits.Log(ctx, audit); err != nil {
		s.logger.WithFields(logrus.Fields{
			"event_type": audit.EventType,
			"error":      err.Error(),
		}).Error("Failed to write payment audit")
	}
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
