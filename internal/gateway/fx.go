package gateway

import (
	"github.com/bloxmart/bloxmart/internal/gateway/adapters"
	"github.com/bloxmart/bloxmart/internal/gateway/adapters/paypal"
	"github.com/bloxmart/bloxmart/internal/gateway/adapters/stripe"
	gatewayservice "github.com/bloxmart/bloxmart/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.webhook",
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
			paypal.NewFactory(),
		)
	}),
	fx.Provide(gatewayservice.NewService),
)
