package gateway

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/invoza/invoza/internal/config"
)

var Module = fx.Module("gateway",
	fx.Provide(config.NewGatewayPolicyHolder),
	fx.Provide(func(policy *config.GatewayPolicyHolder, log *zap.Logger) Adapter {
		return NewSimulator(policy, log)
	}),
)
