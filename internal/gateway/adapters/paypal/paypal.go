package paypal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bloxmart/bloxmart/internal/gateway/domain"
)

// verificationSuccess is the only verification_status accepted from the
// gateway's verify endpoint.
const verificationSuccess = "SUCCESS"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "paypal"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.Adapter, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	clientSecret := strings.TrimSpace(cfg.ClientSecret)
	webhookID := strings.TrimSpace(cfg.WebhookID)
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if clientID == "" || clientSecret == "" || webhookID == "" || baseURL == "" {
		return nil, domain.ErrInvalidConfig
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Adapter{
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		baseURL:      baseURL,
		http:         httpClient,
	}, nil
}

type Adapter struct {
	clientID     string
	clientSecret string
	webhookID    string
	baseURL      string
	http         *http.Client
}

// Verify calls the gateway's own verification endpoint with the transmission
// headers. There is no local signature scheme for this provider.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	transmissionID := strings.TrimSpace(headers.Get("Paypal-Transmission-Id"))
	transmissionTime := strings.TrimSpace(headers.Get("Paypal-Transmission-Time"))
	transmissionSig := strings.TrimSpace(headers.Get("Paypal-Transmission-Sig"))
	certURL := strings.TrimSpace(headers.Get("Paypal-Cert-Url"))
	authAlgo := strings.TrimSpace(headers.Get("Paypal-Auth-Algo"))
	if transmissionID == "" || transmissionTime == "" || transmissionSig == "" || certURL == "" || authAlgo == "" {
		return domain.ErrInvalidSignature
	}
	if !json.Valid(payload) {
		return domain.ErrInvalidPayload
	}

	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(map[string]any{
		"auth_algo":         authAlgo,
		"cert_url":          certURL,
		"transmission_id":   transmissionID,
		"transmission_sig":  transmissionSig,
		"transmission_time": transmissionTime,
		"webhook_id":        a.webhookID,
		"webhook_event":     json.RawMessage(payload),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVerifyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: verify endpoint returned %d", domain.ErrVerifyUnavailable, resp.StatusCode)
	}

	var result struct {
		VerificationStatus string `json:"verification_status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrVerifyUnavailable, err)
	}
	if result.VerificationStatus != verificationSuccess {
		return domain.ErrInvalidSignature
	}
	return nil
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrVerifyUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("%w: token endpoint returned %d", domain.ErrVerifyUnavailable, resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrVerifyUnavailable, err)
	}
	if strings.TrimSpace(result.AccessToken) == "" {
		return "", domain.ErrVerifyUnavailable
	}
	return result.AccessToken, nil
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.Notice, error) {
	var event paypalEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.EventType) {
	case "PAYMENT.CAPTURE.COMPLETED":
		return a.parseCapture(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type paypalEvent struct {
	ID           string          `json:"id"`
	EventType    string          `json:"event_type"`
	CreateTime   string          `json:"create_time"`
	ResourceType string          `json:"resource_type"`
	Resource     json.RawMessage `json:"resource"`
}

type paypalCapture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	CustomID string `json:"custom_id"`
	Amount   struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
}

func (a *Adapter) parseCapture(event paypalEvent, payload []byte) (*domain.Notice, error) {
	var capture paypalCapture
	if err := json.Unmarshal(event.Resource, &capture); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(capture.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}
	if status := strings.TrimSpace(capture.Status); status != "" && status != "COMPLETED" {
		return nil, domain.ErrEventIgnored
	}

	notice := &domain.Notice{
		Provider:   "paypal",
		EventID:    event.ID,
		Method:     domain.MethodPayPal,
		AmountPaid: parseDecimalCents(capture.Amount.Value),
		Currency:   strings.ToUpper(strings.TrimSpace(capture.Amount.CurrencyCode)),
		OccurredAt: parseEventTime(event.CreateTime),
		RawPayload: payload,
	}

	// custom_id carries either the structured checkout metadata or the legacy
	// "<amount> Robux for <username>" description.
	customID := strings.TrimSpace(capture.CustomID)
	if customID != "" {
		var metadata map[string]string
		if err := json.Unmarshal([]byte(customID), &metadata); err == nil && len(metadata) > 0 {
			notice.Metadata = metadata
		} else {
			notice.Description = customID
		}
	}

	return notice, nil
}

func parseEventTime(raw string) time.Time {
	parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw))
	if err != nil {
		return time.Now().UTC()
	}
	return parsed.UTC()
}

func parseDecimalCents(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return int64(parsed*100 + 0.5)
}
