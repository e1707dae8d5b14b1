package billinghistory

import (
	"github.com/invoza/invoza/internal/billinghistory/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("billinghistory",
	fx.Provide(repository.Provide),
)
