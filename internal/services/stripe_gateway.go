package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// checkoutSessions is the part of the Stripe API the gateway uses
type checkoutSessions interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway takes card payments through Stripe Checkout Sessions
type StripeGateway struct {
	sessions checkoutSessions
	logger   *logrus.Logger
}

// NewStripeGateway creates a gateway with its own API client so the global
// stripe.Key is never touched
func NewStripeGateway(secretKey string, logger *logrus.Logger) *StripeGateway {
	sc := client.New(secretKey, nil)
	return &StripeGateway{
		sessions: sc.CheckoutSessions,
		logger:   logger,
	}
}

// Name identifies the gateway on stored attempts
func (g *StripeGateway) Name() string {
	return "stripe"
}

// Initiate opens a hosted checkout session for the attempt
func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (*GatewaySession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL(req.ReturnURL, req.MerchantReference)),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.MerchantReference),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(req.Currency)),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	if req.Customer.Email != "" {
		params.CustomerEmail = stripe.String(req.Customer.Email)
	}
	params.Context = ctx
	params.AddMetadata("merchant_reference", req.MerchantReference)

	sess, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	if sess.URL == "" {
		return nil, fmt.Errorf("checkout session %s has no URL", sess.ID)
	}

	g.logger.WithFields(logrus.Fields{
		"session_id":         sess.ID,
		"merchant_reference": req.MerchantReference,
		"amount":             req.Amount,
		"currency":           req.Currency,
	}).Info("Stripe checkout session created")

	return &GatewaySession{
		RedirectURL: sess.URL,
		TrackingID:  sess.ID,
	}, nil
}

// QueryStatus reads the checkout session back from Stripe
func (g *StripeGateway) QueryStatus(ctx context.Context, query StatusQuery) (*GatewayStatus, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.sessions.Get(query.TrackingID, params)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if query.MerchantReference != "" && sess.ClientReferenceID != "" && sess.ClientReferenceID != query.MerchantReference {
		return nil, fmt.Errorf("checkout session %s belongs to %s, expected %s", sess.ID, sess.ClientReferenceID, query.MerchantReference)
	}

	result := &GatewayStatus{
		Status:    GatewayStatusPending,
		Amount:    sess.AmountTotal,
		Currency:  strings.ToUpper(string(sess.Currency)),
		RawStatus: fmt.Sprintf("%s/%s", sess.Status, sess.PaymentStatus),
	}
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		result.Status = GatewayStatusCompleted
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		result.Status = GatewayStatusFailed
	}

	return result, nil
}

// successURL points the customer back with what the callback endpoint needs.
// Stripe substitutes the literal {CHECKOUT_SESSION_ID} so it must stay unescaped.
func successURL(returnURL, merchantRef string) string {
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "client_reference_id=" + url.QueryEscape(merchantRef) + "&session_id={CHECKOUT_SESSION_ID}"
}
