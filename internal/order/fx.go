package order

import (
	orderservice "github.com/bloxmart/bloxmart/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.decoder",
	fx.Provide(orderservice.NewService),
)
