// Package worker sweeps snapshot rows left behind by month
// rollovers. Writes already reset stale rows lazily; the sweep keeps
// read-only dashboards from serving stale counters for users with no
// new activity.
package worker

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/voxmeter/voxmeter/internal/clock"
	ledgerdomain "github.com/voxmeter/voxmeter/internal/ledger/domain"
	snapshotdomain "github.com/voxmeter/voxmeter/internal/snapshot/domain"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Snapshot snapshotdomain.Service
	Config   Config `optional:"true"`
}

type Worker struct {
	log      *zap.Logger
	clock    clock.Clock
	snapshot snapshotdomain.Service
	cfg      Config
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:      p.Log.Named("snapshot.worker"),
		clock:    p.Clock,
		snapshot: p.Snapshot,
		cfg:      p.Config.withDefaults(),
	}
}

func (w *Worker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := w.RunOnce(ctx); err != nil {
			w.log.Warn("snapshot rollover run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(parentCtx context.Context) error {
	ctx, cancel := context.WithTimeout(parentCtx, w.cfg.RunTimeout)
	defer cancel()

	month := ledgerdomain.BillingMonthOf(w.clock.Now())

	total := 0
	for {
		reset, err := w.snapshot.ResetStale(ctx, month, w.cfg.BatchSize)
		if err != nil {
			return err
		}
		total += reset
		if reset < w.cfg.BatchSize {
			break
		}
	}

	if total > 0 {
		w.log.Info("snapshots rolled over",
			zap.String("billing_month", month),
			zap.Int("reset", total),
		)
	}
	return nil
}
