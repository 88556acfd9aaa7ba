package island

import (
	"context"
	"log/slog"
	"time"

	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/world"
)

// Ticker reconciles every island on a fixed interval. Each island runs in
// its own transaction; a failing island is reported and skipped.
type Ticker struct {
	service  *Service
	store    world.Store
	emitter  events.Emitter
	interval time.Duration
	logger   *slog.Logger
}

func NewTicker(service *Service, store world.Store, emitter events.Emitter, interval time.Duration, logger *slog.Logger) *Ticker {
	return &Ticker{
		service:  service,
		store:    store,
		emitter:  emitter,
		interval: interval,
		logger:   logger.With("component", "production_ticker"),
	}
}

// Start blocks until ctx is cancelled. Call in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	t.logger.Info("Production ticker started", "interval", t.interval)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Production ticker stopped")
			return
		case <-ticker.C:
			t.RunOnce(ctx)
		}
	}
}

type CycleReport struct {
	Islands    int
	Reconciled int
	Ticks      int
	Failed     []int64
}

// RunOnce reconciles every island once.
func (t *Ticker) RunOnce(ctx context.Context) CycleReport {
	var report CycleReport

	ids, err := t.store.ListIslandIDs(ctx)
	if err != nil {
		t.logger.Error("Failed to list islands for production cycle", "error", err)
		return report
	}
	report.Islands = len(ids)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}

		rec, err := t.service.AdvanceIslandToNow(ctx, id)
		if err != nil {
			report.Failed = append(report.Failed, id)
			t.logger.Error("Production tick failed", "island_id", id, "error", err)
			t.emitter.Emit(ctx, events.New(events.TickFailed, events.Global, map[string]any{
				"island_id": id,
				"error":     err.Error(),
			}, t.service.now()))
			continue
		}
		if rec.TicksApplied > 0 {
			report.Reconciled++
			report.Ticks += rec.TicksApplied
		}
	}

	t.logger.Debug("Production cycle finished",
		"islands", report.Islands,
		"reconciled", report.Reconciled,
		"ticks", report.Ticks,
		"failed", len(report.Failed),
	)
	return report
}
