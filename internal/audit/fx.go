package audit

import (
	"go.uber.org/fx"

	"github.com/gstflow/gstflow/internal/audit/repository"
	"github.com/gstflow/gstflow/internal/audit/service"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.NewRepository),
	fx.Provide(service.NewService),
)
