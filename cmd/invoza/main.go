package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/invoza/invoza/internal/billing"
	"github.com/invoza/invoza/internal/billinghistory"
	"github.com/invoza/invoza/internal/clock"
	"github.com/invoza/invoza/internal/config"
	"github.com/invoza/invoza/internal/gateway"
	"github.com/invoza/invoza/internal/logger"
	"github.com/invoza/invoza/internal/migration"
	"github.com/invoza/invoza/internal/paymentmethod"
	"github.com/invoza/invoza/internal/plan"
	"github.com/invoza/invoza/internal/server"
	"github.com/invoza/invoza/internal/subscription"
	"github.com/invoza/invoza/internal/sweeper"
	"github.com/invoza/invoza/internal/transaction"
	"github.com/invoza/invoza/internal/user"
	"github.com/invoza/invoza/internal/webhook"
	"github.com/invoza/invoza/pkg/db"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Functional domains
		plan.Module,
		user.Module,
		paymentmethod.Module,
		transaction.Module,
		gateway.Module,
		subscription.Module,
		billinghistory.Module,
		billing.Module,
		webhook.Module,
		sweeper.Module,

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
