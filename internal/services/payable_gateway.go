package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/safaritrail/booking-engine/internal/config"
	"github.com/sirupsen/logrus"
)

// PAYableEnvironmentURLs maps environment names to their IPG endpoint URLs
var PAYableEnvironmentURLs = map[string]string{
	"dev":        "https://payable-ipg-dev.web.app/ipg/dev",
	"sandbox":    "https://sandboxipgpayment.payable.lk/ipg/sandbox",
	"production": "https://ipgpayment.payable.lk/ipg/pro",
}

// PAYableGateway handles payment gateway integration with PAYable IPG
type PAYableGateway struct {
	config   *config.PaymentConfig
	logger   *logrus.Logger
	client   *http.Client
	endpoint string
}

// PAYablePaymentRequest represents the request sent to PAYable IPG
// NOTE: merchantToken is NOT sent - PAYable rejects it. Only used for checkValue calculation.
type PAYablePaymentRequest struct {
	MerchantKey string `json:"merchantKey"`

	// URLs
	LogoURL    string `json:"logoUrl,omitempty"`
	ReturnURL  string `json:"returnUrl"`
	WebhookURL string `json:"webhookUrl,omitempty"`

	// Payment details
	PaymentType  int    `json:"paymentType"` // 1 = one-time, 2 = recurring
	InvoiceID    string `json:"invoiceId"`
	Amount       string `json:"amount"`
	CurrencyCode string `json:"currencyCode"`

	OrderDescription string `json:"orderDescription,omitempty"`

	// Customer details (REQUIRED)
	CustomerFirstName   string `json:"customerFirstName"`
	CustomerLastName    string `json:"customerLastName"`
	CustomerEmail       string `json:"customerEmail"`
	CustomerMobilePhone string `json:"customerMobilePhone"`

	// Billing address (REQUIRED)
	BillingAddressStreet      string `json:"billingAddressStreet"`
	BillingAddressCity        string `json:"billingAddressCity"`
	BillingAddressCountry     string `json:"billingAddressCountry"`
	BillingAddressPostcodeZip string `json:"billingAddressPostcodeZip"`

	CheckValue string `json:"checkValue"`

	IsMobilePayment    int    `json:"isMobilePayment"`
	IntegrationType    string `json:"integrationType"` // Max 20 chars
	IntegrationVersion string `json:"integrationVersion"`
}

// PAYablePaymentResponse represents the response from PAYable IPG
type PAYablePaymentResponse struct {
	Status          string `json:"status"`            // "success" or "PENDING" when ready
	UID             string `json:"uid"`               // Unique transaction ID
	StatusIndicator string `json:"statusIndicator"`   // Token for status checks
	PaymentPage     string `json:"paymentPage"`       // URL to redirect user for payment
	Message         string `json:"message,omitempty"` // Error message if status is error
}

// PAYableStatusRequest represents the request to check payment status
type PAYableStatusRequest struct {
	UID             string `json:"uid"`
	StatusIndicator string `json:"statusIndicator"`
}

// PAYableStatusResponse represents the response from status check
type PAYableStatusResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"paymentStatus"` // "pending", "success", "failed", "cancelled"
	Amount        string `json:"amount"`
	CurrencyCode  string `json:"currencyCode,omitempty"`
	InvoiceID     string `json:"invoiceId"`
	TransactionID string `json:"transactionId,omitempty"`
	Message       string `json:"message,omitempty"`
}

// NewPAYableGateway creates a new PAYable payment gateway
func NewPAYableGateway(cfg *config.PaymentConfig, logger *logrus.Logger) *PAYableGateway {
	endpoint, ok := PAYableEnvironmentURLs[cfg.Environment]
	if !ok {
		endpoint = PAYableEnvironmentURLs["sandbox"] // Default to sandbox
	}

	return &PAYableGateway{
		config: cfg,
		logger: logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		endpoint: endpoint,
	}
}

// Name identifies the gateway on stored attempts
func (g *PAYableGateway) Name() string {
	return "payable"
}

// GenerateCheckValue creates the SHA-512 checkValue for PAYable authentication
// Step 1: hash1 = SHA512(merchantToken) uppercase hex
// Step 2: hash2 = SHA512("merchantKey|invoiceId|amount|currencyCode|hash1") uppercase hex
func (g *PAYableGateway) GenerateCheckValue(invoiceID, amount, currencyCode string) string {
	hash1 := sha512.Sum512([]byte(g.config.MerchantToken))
	hash1Hex := strings.ToUpper(hex.EncodeToString(hash1[:]))

	data := fmt.Sprintf("%s|%s|%s|%s|%s",
		g.config.MerchantKey,
		invoiceID,
		amount,
		currencyCode,
		hash1Hex,
	)
	hash2 := sha512.Sum512([]byte(data))
	return strings.ToUpper(hex.EncodeToString(hash2[:]))
}

// Initiate creates a payment request and returns the payment page URL
func (g *PAYableGateway) Initiate(ctx context.Context, req InitiateRequest) (*GatewaySession, error) {
	if !g.IsConfigured() {
		return nil, fmt.Errorf("payment gateway not configured: missing merchant credentials")
	}

	amount := MajorAmount(req.Amount)
	currency := strings.ToUpper(req.Currency)
	firstName, lastName := splitName(req.Customer.Name)
	if lastName == "" {
		lastName = "." // PAYable requires last name
	}

	request := &PAYablePaymentRequest{
		MerchantKey:               g.config.MerchantKey,
		LogoURL:                   g.config.LogoURL,
		ReturnURL:                 req.ReturnURL,
		WebhookURL:                req.CallbackURL,
		PaymentType:               1,
		InvoiceID:                 req.MerchantReference,
		Amount:                    amount,
		CurrencyCode:              currency,
		OrderDescription:          req.Description,
		CustomerFirstName:         firstName,
		CustomerLastName:          lastName,
		CustomerEmail:             req.Customer.Email,
		CustomerMobilePhone:       req.Customer.Phone,
		BillingAddressStreet:      "N/A",
		BillingAddressCity:        "N/A",
		BillingAddressCountry:     "KE",
		BillingAddressPostcodeZip: "00000",
		CheckValue:                g.GenerateCheckValue(req.MerchantReference, amount, currency),
		IsMobilePayment:           0,
		IntegrationType:           "SafariTrail", // Max 20 chars
		IntegrationVersion:        "1.0.0",
	}

	g.logger.WithFields(logrus.Fields{
		"invoice_id": req.MerchantReference,
		"amount":     amount,
		"currency":   currency,
		"endpoint":   g.endpoint,
	}).Info("Initiating PAYable payment")

	body, status, err := g.post(ctx, g.endpoint, request)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("payment gateway returned status %d: %s", status, string(body))
	}

	var paymentResp PAYablePaymentResponse
	if err := json.Unmarshal(body, &paymentResp); err != nil {
		g.logger.WithFields(logrus.Fields{
			"body":  string(body),
			"error": err.Error(),
		}).Error("Failed to parse PAYable response")
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	// PAYable returns "PENDING" when payment is ready for user, or "success" in some cases
	if paymentResp.Status != "success" && paymentResp.Status != "PENDING" {
		errMsg := paymentResp.Message
		if errMsg == "" {
			errMsg = fmt.Sprintf("status=%s", paymentResp.Status)
		}
		return nil, fmt.Errorf("payment initiation failed: %s", errMsg)
	}
	if paymentResp.PaymentPage == "" {
		return nil, fmt.Errorf("payment initiation failed: no payment page URL returned")
	}

	g.logger.WithFields(logrus.Fields{
		"uid":        paymentResp.UID,
		"invoice_id": req.MerchantReference,
	}).Info("PAYable payment initiated successfully")

	return &GatewaySession{
		RedirectURL:     paymentResp.PaymentPage,
		TrackingID:      paymentResp.UID,
		StatusIndicator: paymentResp.StatusIndicator,
	}, nil
}

// QueryStatus queries the current status of a payment
func (g *PAYableGateway) QueryStatus(ctx context.Context, query StatusQuery) (*GatewayStatus, error) {
	// The check-status endpoint is at the same base URL
	statusURL := strings.Replace(g.endpoint, "/ipg/", "/check-status/", 1)

	body, status, err := g.post(ctx, statusURL, &PAYableStatusRequest{
		UID:             query.TrackingID,
		StatusIndicator: query.StatusIndicator,
	})
	if err != nil {
		return nil, err
	}
	if status >= http.StatusInternalServerError {
		return nil, fmt.Errorf("payment gateway returned status %d", status)
	}

	var statusResp PAYableStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if strings.EqualFold(statusResp.Status, "error") {
		return nil, fmt.Errorf("status check rejected: %s", statusResp.Message)
	}
	if statusResp.InvoiceID != "" && query.MerchantReference != "" && statusResp.InvoiceID != query.MerchantReference {
		return nil, fmt.Errorf("status check returned invoice %s, expected %s", statusResp.InvoiceID, query.MerchantReference)
	}

	result := &GatewayStatus{
		Status:    mapPAYableStatus(statusResp.PaymentStatus),
		Currency:  statusResp.CurrencyCode,
		RawStatus: statusResp.PaymentStatus,
	}
	// PAYable settles in the invoice currency and does not always echo it
	if result.Currency == "" {
		result.Currency = query.Currency
	}
	if statusResp.Amount != "" {
		result.Amount, err = ParseMajorAmount(statusResp.Amount)
		if err != nil {
			return nil, err
		}
	}

	g.logger.WithFields(logrus.Fields{
		"uid":            query.TrackingID,
		"invoice_id":     query.MerchantReference,
		"payment_status": statusResp.PaymentStatus,
	}).Info("PAYable payment status checked")

	return result, nil
}

func (g *PAYableGateway) post(ctx context.Context, url string, payload interface{}) ([]byte, int, error) {
	jsonBody, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to call payment gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func mapPAYableStatus(paymentStatus string) GatewayPaymentStatus {
	switch strings.ToUpper(paymentStatus) {
	case "SUCCESS", "COMPLETED", "PAID":
		return GatewayStatusCompleted
	case "FAILED", "CANCELLED", "DECLINED", "EXPIRED":
		return GatewayStatusFailed
	}
	return GatewayStatusPending
}

// splitName splits a full name into first and last name
func splitName(fullName string) (firstName, lastName string) {
	parts := strings.Fields(fullName)
	if len(parts) == 0 {
		return "Customer", ""
	}
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}

// IsConfigured returns true if payment gateway is properly configured
func (g *PAYableGateway) IsConfigured() bool {
	return g.config.MerchantKey != "" && g.config.MerchantToken != ""
}
