package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/ai-doc-summarizer/internal/adapter/observability"
)

// runSweeper periodically recovers stale processing claims and requeues
// recovered (failed) jobs that still have attempts left.
func (w *Worker) runSweeper(ctx context.Context) {
	ticker := time.NewTicker(w.Opts.SweepEvery)
	defer ticker.Stop()

	w.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper stopping")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *Worker) sweepOnce(ctx context.Context) {
	recovered, err := w.Jobs.RecoverStale(ctx, w.Opts.StaleTimeout)
	if err != nil {
		slog.Error("stale recovery failed", slog.Any("error", err))
		return
	}
	if recovered > 0 {
		observability.StaleJobsRecoveredTotal.Add(float64(recovered))
		slog.Warn("recovered stale jobs", slog.Int("count", recovered))
	}
	requeued, deadened, err := w.Jobs.RequeueFailed(ctx)
	if err != nil {
		slog.Error("failed-job requeue failed", slog.Any("error", err))
		return
	}
	if requeued > 0 || deadened > 0 {
		slog.Info("failed jobs swept", slog.Int("requeued", requeued), slog.Int("deadened", deadened))
	}
}
