package island

import (
	"context"

	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/production"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

type Reconciled struct {
	Island    *world.Island    `json:"island"`
	Buildings []world.Building `json:"buildings"`
	// Tick is the last applied tick, or a preview when nothing was due.
	Tick production.Tick `json:"tick"`
	// Current is the rate at the island's state after reconciliation.
	Current              production.Tick `json:"current"`
	TicksApplied         int             `json:"ticks_applied"`
	MultiplierDowngraded bool            `json:"multiplier_downgraded"`
	// Events are emitted by the caller once its transaction commits.
	Events []events.Event `json:"-"`
}

// AdvanceIslandToNow applies every tick due on the island in its own
// transaction and emits the resulting events after commit.
func (s *Service) AdvanceIslandToNow(ctx context.Context, islandID int64) (*Reconciled, error) {
	var rec *Reconciled

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := tx.LockIsland(ctx, islandID)
		if err != nil {
			return err
		}
		rec, err = s.ReconcileLocked(ctx, tx, isl)
		return err
	})
	if err != nil {
		return nil, errors.AsStorage("reconciliation failed", err)
	}

	events.EmitAll(ctx, s.emitter, rec.Events)
	return rec, nil
}

// ReconcileLocked advances isl, which the caller must hold locked in tx.
// isl is updated in place. Nothing is written when no tick is due.
func (s *Service) ReconcileLocked(ctx context.Context, tx world.Tx, isl *world.Island) (*Reconciled, error) {
	logger := s.logger.With("component", "island_service", "operation", "reconcile", "island_id", isl.ID)

	buildings, err := tx.ListBuildings(ctx, isl.ID)
	if err != nil {
		return nil, err
	}

	params := production.Params{
		Table:           s.table,
		TickInterval:    s.cfg.TickInterval,
		MaxCatchupTicks: s.cfg.MaxCatchupTicks,
	}
	state := production.State{
		Totals:     isl.Resources,
		Multiplier: isl.TimeMultiplier,
		LastTickAt: isl.LastTickAt,
	}
	now := s.now()
	res := production.Advance(params, state, buildings, now)

	rec := &Reconciled{
		Island:       isl,
		Buildings:    buildings,
		Tick:         res.Tick,
		TicksApplied: res.TicksApplied,
	}
	if res.TicksApplied == 0 {
		rec.Current = res.Tick
		return rec, nil
	}

	previousMultiplier := isl.TimeMultiplier
	isl.Resources = res.State.Totals
	isl.TimeMultiplier = res.State.Multiplier
	isl.LastTickAt = res.State.LastTickAt
	rec.MultiplierDowngraded = res.Downgraded
	rec.Current = s.preview(isl, buildings)

	var milestones []string
	if !isl.FirstLevel3Announced && production.HasLevel(buildings, production.MilestoneLevel) {
		isl.FirstLevel3Announced = true
		milestones = append(milestones, "first_level3")
	}
	if !isl.AlphaCompleted {
		req := production.CheckRequirements(rec.Current, buildings, s.cfg.MinEfficiency)
		if production.AlphaComplete(isl.Resources, req, s.cfg.AlphaGoal) {
			isl.AlphaCompleted = true
			milestones = append(milestones, "alpha_completed")
		}
	}

	if err := tx.UpdateIsland(ctx, isl); err != nil {
		return nil, err
	}

	entry := &world.ProductionLog{
		IslandID: isl.ID,
		Ticks:    res.TicksApplied,
		Produced: res.Produced,
		Consumed: res.Consumed,
	}
	if err := tx.InsertProductionLog(ctx, entry); err != nil {
		return nil, err
	}

	rec.Events = append(rec.Events,
		events.New(events.TickApplied, isl.ID, map[string]any{
			"ticks":      res.TicksApplied,
			"produced":   res.Produced,
			"consumed":   res.Consumed,
			"net":        res.Produced.Sub(res.Consumed),
			"tick":       res.Tick,
			"resources":  isl.Resources,
			"multiplier": isl.TimeMultiplier,
		}, now),
		events.New(events.ResourceUpdate, isl.ID, resourcePayload(isl, rec.Current), now),
	)
	if res.Downgraded {
		logger.Info("Time multiplier downgraded for lack of energy",
			"from", previousMultiplier, "at_tick", res.DowngradedAt)
		rec.Events = append(rec.Events, events.New(events.MultiplierDowngraded, isl.ID, map[string]any{
			"from":    previousMultiplier,
			"to":      isl.TimeMultiplier,
			"at_tick": res.DowngradedAt,
			"message": "not enough energy to sustain the time multiplier",
		}, now))
	}
	for _, m := range milestones {
		rec.Events = append(rec.Events, events.New(events.Milestone, events.Global, map[string]any{
			"milestone": m,
			"island_id": isl.ID,
			"user_id":   isl.UserID,
		}, now))
	}

	logger.Debug("Island reconciled", "ticks", res.TicksApplied, "resources", isl.Resources)
	return rec, nil
}
