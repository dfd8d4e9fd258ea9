package payment

import (
	"go.uber.org/fx"

	"github.com/gstflow/gstflow/internal/payment/service"
)

var Module = fx.Module("payment.service",
	fx.Provide(service.New),
)
