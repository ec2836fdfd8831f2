package domain

import (
	"context"
	"errors"
	"net/http"
	"time"
)

var (
	ErrInvalidProvider   = errors.New("invalid_provider")
	ErrProviderNotFound  = errors.New("provider_not_found")
	ErrInvalidConfig     = errors.New("invalid_gateway_config")
	ErrInvalidPayload    = errors.New("invalid_payload")
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrInvalidSignature  = errors.New("invalid_signature")
	ErrEventIgnored      = errors.New("event_ignored")
	ErrVerifyUnavailable = errors.New("verification_unavailable")
)

const (
	MethodCard   = "card"
	MethodPayPal = "paypal"
)

// Notice is the canonical, verified payment-completion event parsed by
// gateway adapters. Metadata carries the order fields attached at checkout;
// Description is the PayPal fallback carrier when structured metadata is
// absent.
type Notice struct {
	Provider    string
	EventID     string
	Method      string
	AmountPaid  int64
	Currency    string
	Metadata    map[string]string
	Description string
	OccurredAt  time.Time
	RawPayload  []byte
}

// Adapter verifies and parses one gateway's notifications. Verify operates on
// the raw, unparsed body so local signature checks stay byte-exact.
type Adapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*Notice, error)
}

// AdapterConfig carries the per-provider credentials resolved from the
// application configuration.
type AdapterConfig struct {
	Provider string

	// Local-signature verification.
	WebhookSecret string

	// Remote verification.
	ClientID     string
	ClientSecret string
	WebhookID    string
	BaseURL      string
	HTTPClient   *http.Client
}

// AdapterFactory builds a provider adapter from its configuration.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
