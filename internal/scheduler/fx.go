package scheduler

import (
	"context"

	"github.com/gstflow/gstflow/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartLoop),
)

// StartLoop runs the internal ticker loop when enabled. Deployments driven
// by an external cron hitting the HTTP trigger keep it off.
func StartLoop(lc fx.Lifecycle, cfg config.Config, sched *Scheduler) {
	if !cfg.SchedulerEnabled {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			loopCtx, cancel := context.WithCancel(context.Background())
			go sched.RunForever(loopCtx)
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})
			return nil
		},
	})
}
