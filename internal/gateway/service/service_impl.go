package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/bloxmart/bloxmart/internal/config"
	"github.com/bloxmart/bloxmart/internal/gateway/adapters"
	"github.com/bloxmart/bloxmart/internal/gateway/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Adapters *adapters.Registry
}

// Service authenticates inbound gateway notifications. Verification always
// runs against the raw body before any structured parsing.
type Service struct {
	log      *zap.Logger
	cfg      config.Config
	adapters *adapters.Registry
}

func NewService(p Params) *Service {
	return &Service{
		log:      p.Log.Named("gateway.webhook"),
		cfg:      p.Cfg,
		adapters: p.Adapters,
	}
}

func (s *Service) Authenticate(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.Notice, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return nil, domain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return nil, domain.ErrProviderNotFound
	}

	adapter, err := s.adapters.NewAdapter(provider, s.adapterConfig(provider))
	if err != nil {
		return nil, err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook verification failed", zap.String("provider", provider), zap.Error(err))
		return nil, err
	}

	notice, err := adapter.Parse(ctx, payload)
	if err != nil {
		return nil, err
	}
	notice.Provider = provider
	if notice.RawPayload == nil {
		notice.RawPayload = payload
	}
	return notice, nil
}

func (s *Service) adapterConfig(provider string) domain.AdapterConfig {
	switch provider {
	case "stripe":
		return domain.AdapterConfig{
			Provider:      provider,
			WebhookSecret: s.cfg.StripeWebhookSecret,
		}
	case "paypal":
		return domain.AdapterConfig{
			Provider:     provider,
			ClientID:     s.cfg.PayPalClientID,
			ClientSecret: s.cfg.PayPalSecret,
			WebhookID:    s.cfg.PayPalWebhookID,
			BaseURL:      s.cfg.PayPalBaseURL,
		}
	default:
		return domain.AdapterConfig{Provider: provider}
	}
}
