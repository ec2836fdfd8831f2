package main

import (
	"github.com/bloxmart/bloxmart/internal/config"
	"github.com/bloxmart/bloxmart/internal/economy"
	"github.com/bloxmart/bloxmart/internal/fulfillment"
	"github.com/bloxmart/bloxmart/internal/gateway"
	"github.com/bloxmart/bloxmart/internal/logger"
	"github.com/bloxmart/bloxmart/internal/metrics"
	"github.com/bloxmart/bloxmart/internal/order"
	"github.com/bloxmart/bloxmart/internal/providers/ops"
	"github.com/bloxmart/bloxmart/internal/server"
	"github.com/bloxmart/bloxmart/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		metrics.Module,

		// Functional domains
		gateway.Module,
		order.Module,
		economy.Module,
		ops.Module,
		fulfillment.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
