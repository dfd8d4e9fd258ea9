package observability

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gstflow/gstflow/internal/observability/logger"
	"github.com/gstflow/gstflow/internal/observability/metrics"
)

// Module wires observability components via Fx.
var Module = fx.Options(
	fx.Provide(LoadConfig),
	fx.Provide(func(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
		return logger.New(lc, logger.Config{
			ServiceName:         cfg.ServiceName,
			Environment:         cfg.Environment,
			Version:             cfg.Version,
			Level:               cfg.LogLevel,
			Format:              cfg.LogFormat,
			IncludeCaller:       cfg.Debug(),
			IncludeStackOnError: true,
		})
	}),
	fx.Provide(func(cfg Config) *metrics.SchedulerMetrics {
		return metrics.SchedulerWithConfig(metrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		})
	}),
	fx.Provide(func(cfg Config) *metrics.HTTPMetrics {
		return metrics.HTTPWithConfig(metrics.Config{
			ServiceName: cfg.ServiceName,
			Environment: cfg.Environment,
		})
	}),
)
