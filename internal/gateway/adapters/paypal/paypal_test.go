package paypal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bloxmart/bloxmart/internal/gateway/domain"
)

func newVerifyServer(t *testing.T, verificationStatus string) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "token_test"})
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req["webhook_id"] != "wh_test" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"verification_status": verificationStatus})
	})
	return httptest.NewServer(mux)
}

func newTestAdapter(t *testing.T, baseURL string) domain.Adapter {
	t.Helper()

	adapter, err := NewFactory().NewAdapter(domain.AdapterConfig{
		Provider:     "paypal",
		ClientID:     "client_test",
		ClientSecret: "secret_test",
		WebhookID:    "wh_test",
		BaseURL:      baseURL,
	})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	return adapter
}

func transmissionHeaders() http.Header {
	headers := http.Header{}
	headers.Set("Paypal-Transmission-Id", "tx_1")
	headers.Set("Paypal-Transmission-Time", "2024-01-01T00:00:00Z")
	headers.Set("Paypal-Transmission-Sig", "sig_1")
	headers.Set("Paypal-Cert-Url", "https://api.example.test/cert")
	headers.Set("Paypal-Auth-Algo", "SHA256withRSA")
	return headers
}

func TestVerifyRemote(t *testing.T) {
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	srv := newVerifyServer(t, "SUCCESS")
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	if err := adapter.Verify(context.Background(), payload, transmissionHeaders()); err != nil {
		t.Fatalf("expected verification to pass, got %v", err)
	}
}

func TestVerifyRejectsFailureStatus(t *testing.T) {
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	srv := newVerifyServer(t, "FAILURE")
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	if err := adapter.Verify(context.Background(), payload, transmissionHeaders()); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for FAILURE status, got %v", err)
	}
}

func TestVerifyRequiresTransmissionHeaders(t *testing.T) {
	payload := []byte(`{"id":"WH-1"}`)

	srv := newVerifyServer(t, "SUCCESS")
	defer srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	headers := transmissionHeaders()
	headers.Del("Paypal-Transmission-Sig")
	if err := adapter.Verify(context.Background(), payload, headers); !errors.Is(err, domain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature for missing headers, got %v", err)
	}
}

func TestVerifyUnavailableEndpoint(t *testing.T) {
	payload := []byte(`{"id":"WH-1"}`)

	srv := newVerifyServer(t, "SUCCESS")
	srv.Close()

	adapter := newTestAdapter(t, srv.URL)
	if err := adapter.Verify(context.Background(), payload, transmissionHeaders()); !errors.Is(err, domain.ErrVerifyUnavailable) {
		t.Fatalf("expected verify unavailable, got %v", err)
	}
}

func TestParseCaptureWithMetadata(t *testing.T) {
	payload := []byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","create_time":"2024-03-01T12:00:00Z","resource":{"id":"CAP-1","status":"COMPLETED","custom_id":"{\"username\":\"Builderman\",\"amount\":\"100\",\"user_id\":\"156\",\"kind\":\"payout\"}","amount":{"currency_code":"usd","value":"3.50"}}}`)

	adapter := newTestAdapter(t, "https://api.example.test")
	notice, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if notice.EventID != "WH-2" {
		t.Fatalf("expected event id WH-2, got %s", notice.EventID)
	}
	if notice.Method != domain.MethodPayPal {
		t.Fatalf("expected method %s, got %s", domain.MethodPayPal, notice.Method)
	}
	if notice.AmountPaid != 350 {
		t.Fatalf("expected 350 cents, got %d", notice.AmountPaid)
	}
	if notice.Metadata["username"] != "Builderman" {
		t.Fatalf("expected metadata username, got %q", notice.Metadata["username"])
	}
}

func TestParseCaptureLegacyDescription(t *testing.T) {
	payload := []byte(`{"id":"WH-3","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP-2","status":"COMPLETED","custom_id":"100 Robux for Builderman","amount":{"currency_code":"USD","value":"3.50"}}}`)

	adapter := newTestAdapter(t, "https://api.example.test")
	notice, err := adapter.Parse(context.Background(), payload)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if notice.Metadata != nil {
		t.Fatalf("expected no structured metadata, got %v", notice.Metadata)
	}
	if notice.Description != "100 Robux for Builderman" {
		t.Fatalf("expected legacy description, got %q", notice.Description)
	}
}

func TestParseIgnoresOtherEvents(t *testing.T) {
	adapter := newTestAdapter(t, "https://api.example.test")

	payload := []byte(`{"id":"WH-4","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"CAP-3"}}`)
	if _, err := adapter.Parse(context.Background(), payload); !errors.Is(err, domain.ErrEventIgnored) {
		t.Fatalf("expected event ignored, got %v", err)
	}
}
