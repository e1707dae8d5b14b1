package webhook

import (
	"github.com/invoza/invoza/internal/webhook/repository"
	"github.com/invoza/invoza/internal/webhook/service"
	"go.uber.org/fx"
)

var Module = fx.Module("webhook",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
