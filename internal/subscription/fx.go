package subscription

import (
	"github.com/invoza/invoza/internal/subscription/repository"
	"github.com/invoza/invoza/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
