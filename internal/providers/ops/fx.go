package ops

import (
	"github.com/bloxmart/bloxmart/internal/config"
	"go.uber.org/fx"
)

func NewProvider(cfg config.Config) Provider {
	if cfg.OpsWebhookURL == "" {
		return &NoOpProvider{}
	}
	return NewWebhookProvider(cfg.OpsWebhookURL)
}

var Module = fx.Module("providers.ops",
	fx.Provide(NewProvider),
)
