package paymentmethod

import (
	"github.com/invoza/invoza/internal/paymentmethod/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("paymentmethod",
	fx.Provide(repository.Provide),
)
