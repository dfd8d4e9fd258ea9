package customer

import (
	"go.uber.org/fx"

	"github.com/gstflow/gstflow/internal/customer/repository"
	"github.com/gstflow/gstflow/internal/customer/service"
)

var Module = fx.Module("customer.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
