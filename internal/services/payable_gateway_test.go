package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/safaritrail/booking-engine/internal/config"
	"github.com/safaritrail/booking-engine/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPAYableGateway(t *testing.T, handler http.HandlerFunc) *PAYableGateway {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	g := NewPAYableGateway(&config.PaymentConfig{
		Environment:   "sandbox",
		MerchantKey:   "MK-123",
		MerchantToken: "secret-token",
	}, testLogger())
	g.endpoint = srv.URL + "/ipg/sandbox"
	return g
}

func TestPAYableGateway_Initiate(t *testing.T) {
	var got PAYablePaymentRequest
	g := newTestPAYableGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ipg/sandbox", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(PAYablePaymentResponse{
			Status:          "PENDING",
			UID:             "uid-1",
			StatusIndicator: "si-1",
			PaymentPage:     "https://pay.example.com/uid-1",
		})
	})

	session, err := g.Initiate(context.Background(), InitiateRequest{
		MerchantReference: "SF-20260310-ABC123-F-1A2B",
		Amount:            210000,
		Currency:          "usd",
		Description:       "safari",
		CallbackURL:       "https://api.example.com/cb",
		ReturnURL:         "https://app.example.com/return",
		Customer:          models.Contact{Name: "Amina Wanjiru Otieno", Email: "amina@example.com", Phone: "+254712345678"},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example.com/uid-1", session.RedirectURL)
	assert.Equal(t, "uid-1", session.TrackingID)
	assert.Equal(t, "si-1", session.StatusIndicator)

	assert.Equal(t, "2100.00", got.Amount)
	assert.Equal(t, "USD", got.CurrencyCode)
	assert.Equal(t, "SF-20260310-ABC123-F-1A2B", got.InvoiceID)
	assert.Equal(t, "https://api.example.com/cb", got.WebhookURL)
	assert.Equal(t, "Amina", got.CustomerFirstName)
	assert.Equal(t, "Wanjiru Otieno", got.CustomerLastName)
	assert.Equal(t, g.GenerateCheckValue(got.InvoiceID, "2100.00", "USD"), got.CheckValue)
}

func TestPAYableGateway_InitiateErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusBadGateway, `upstream down`},
		{"rejected", http.StatusOK, `{"status":"error","message":"invalid checkValue"}`},
		{"no payment page", http.StatusOK, `{"status":"PENDING","uid":"u"}`},
		{"garbage", http.StatusOK, `<html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestPAYableGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := g.Initiate(context.Background(), InitiateRequest{
				MerchantReference: "SF-1", Amount: 100, Currency: "USD",
			})
			assert.Error(t, err)
		})
	}
}

func TestPAYableGateway_InitiateNotConfigured(t *testing.T) {
	g := NewPAYableGateway(&config.PaymentConfig{}, testLogger())
	assert.False(t, g.IsConfigured())

	_, err := g.Initiate(context.Background(), InitiateRequest{MerchantReference: "SF-1", Amount: 100, Currency: "USD"})
	assert.Error(t, err)
}

func TestPAYableGateway_QueryStatus(t *testing.T) {
	tests := []struct {
		name         string
		response     PAYableStatusResponse
		wantStatus   GatewayPaymentStatus
		wantAmount   int64
		wantCurrency string
	}{
		{
			name:         "paid",
			response:     PAYableStatusResponse{Status: "success", PaymentStatus: "SUCCESS", Amount: "2100.00", CurrencyCode: "USD", InvoiceID: "INV-1"},
			wantStatus:   GatewayStatusCompleted,
			wantAmount:   210000,
			wantCurrency: "USD",
		},
		{
			name:         "currency not echoed",
			response:     PAYableStatusResponse{Status: "success", PaymentStatus: "paid", Amount: "15.5"},
			wantStatus:   GatewayStatusCompleted,
			wantAmount:   1550,
			wantCurrency: "KES",
		},
		{
			name:         "declined",
			response:     PAYableStatusResponse{Status: "success", PaymentStatus: "cancelled"},
			wantStatus:   GatewayStatusFailed,
			wantCurrency: "KES",
		},
		{
			name:         "pending",
			response:     PAYableStatusResponse{Status: "success", PaymentStatus: "pending"},
			wantStatus:   GatewayStatusPending,
			wantCurrency: "KES",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestPAYableGateway(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/check-status/sandbox", r.URL.Path)
				var req PAYableStatusRequest
				require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
				assert.Equal(t, "uid-1", req.UID)
				assert.Equal(t, "si-1", req.StatusIndicator)
				json.NewEncoder(w).Encode(tt.response)
			})

			status, err := g.QueryStatus(context.Background(), StatusQuery{
				TrackingID:        "uid-1",
				StatusIndicator:   "si-1",
				MerchantReference: "INV-1",
				Currency:          "KES",
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantAmount, status.Amount)
			assert.Equal(t, tt.wantCurrency, status.Currency)
		})
	}
}

func TestPAYableGateway_QueryStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"error status", http.StatusOK, `{"status":"error","message":"unknown uid"}`},
		{"other invoice", http.StatusOK, `{"status":"success","paymentStatus":"SUCCESS","invoiceId":"INV-2","amount":"1.00"}`},
		{"bad amount", http.StatusOK, `{"status":"success","paymentStatus":"SUCCESS","amount":"abc"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestPAYableGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := g.QueryStatus(context.Background(), StatusQuery{TrackingID: "uid-1", MerchantReference: "INV-1"})
			assert.Error(t, err)
		})
	}
}

func TestPAYableGateway_UnknownEnvironmentUsesSandbox(t *testing.T) {
	g := NewPAYableGateway(&config.PaymentConfig{Environment: "staging"}, testLogger())
	assert.Equal(t, PAYableEnvironmentURLs["sandbox"], g.endpoint)
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		in          string
		first, last string
	}{
		{"", "Customer", ""},
		{"Amina", "Amina", ""},
		{"  Amina   Otieno ", "Amina", "Otieno"},
		{"Amina Wanjiru Otieno", "Amina", "Wanjiru Otieno"},
	}
	for _, tt := range tests {
		first, last := splitName(tt.in)
		assert.Equal(t, tt.first, first, tt.in)
		assert.Equal(t, tt.last, last, tt.in)
	}
}
