package sms

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const dialogURLCampaignEndpoint = "https://e-sms.dialog.lk/api/v1/message-via-url/create/url-campaign"

// DialogURLGateway implements SMS sending using Dialog's GET request API (URL method)
// This method uses an esmsqk key instead of username/password authentication
type DialogURLGateway struct {
	apiKey   string // esmsqk key from Dialog portal
	mask     string // Source address/mask
	endpoint string
	client   *http.Client
}

// NewDialogURLGateway creates a new Dialog URL gateway instance
func NewDialogURLGateway(apiKey, mask string) *DialogURLGateway {
	return &DialogURLGateway{
		apiKey:   apiKey,
		mask:     mask,
		endpoint: dialogURLCampaignEndpoint,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FormatPhoneForDialog strips the + and separators, Dialog wants bare digits
func FormatPhoneForDialog(phone string) (string, error) {
	var b strings.Builder
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' || r == ' ' || r == '-':
		default:
			return "", fmt.Errorf("unexpected character %q in phone number", r)
		}
	}
	if b.Len() < 7 {
		return "", fmt.Errorf("phone number %q is too short", phone)
	}
	return b.String(), nil
}

// SendMessage sends one message via Dialog's URL-based SMS API
func (d *DialogURLGateway) SendMessage(ctx context.Context, phone, message string) error {
	formattedPhone, err := FormatPhoneForDialog(phone)
	if err != nil {
		return fmt.Errorf("invalid phone number: %w", err)
	}

	params := url.Values{}
	params.Add("esmsqk", d.apiKey)
	params.Add("list", formattedPhone)
	params.Add("source_address", d.mask)
	params.Add("message", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to create SMS request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read SMS response: %w", err)
	}
	responseStr := strings.TrimSpace(string(body))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, responseStr)
	}

	// Dialog returns "1" for success, or error_id for failure
	if responseStr != "1" {
		return fmt.Errorf("SMS sending failed with error code: %s", responseStr)
	}
	return nil
}

// Name returns the name of this SMS gateway
func (d *DialogURLGateway) Name() string {
	return "Dialog URL Gateway"
}
