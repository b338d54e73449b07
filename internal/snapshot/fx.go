package snapshot

import (
	"context"

	"go.uber.org/fx"

	"github.com/voxmeter/voxmeter/internal/snapshot/service"
	"github.com/voxmeter/voxmeter/internal/snapshot/worker"
)

var Module = fx.Module("snapshot",
	fx.Provide(service.NewService),
	fx.Provide(worker.DefaultConfig),
	fx.Provide(worker.NewWorker),
	fx.Invoke(runWorker),
)

func runWorker(lc fx.Lifecycle, w *worker.Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go w.RunForever(ctx)

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
