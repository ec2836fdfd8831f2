package economy

import (
	orderdomain "github.com/bloxmart/bloxmart/internal/order/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("economy.client",
	fx.Provide(
		NewClient,
		func(c *Client) orderdomain.UserResolver { return c },
	),
)
