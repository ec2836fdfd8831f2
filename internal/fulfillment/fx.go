package fulfillment

import (
	"context"

	"github.com/bloxmart/bloxmart/internal/economy"
	"github.com/bloxmart/bloxmart/internal/fulfillment/domain"
	"github.com/bloxmart/bloxmart/internal/fulfillment/repository"
	"github.com/bloxmart/bloxmart/internal/fulfillment/service"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("fulfillment",
	fx.Provide(
		repository.Provide,
		func(c *economy.Client) domain.Executor { return c },
		service.NewService,
	),
	fx.Invoke(migrate),
)

func migrate(lc fx.Lifecycle, db *gorm.DB) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return db.WithContext(ctx).AutoMigrate(&domain.Attempt{})
		},
	})
}
