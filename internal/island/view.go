package island

import (
	"context"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/production"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

// ResourcePayload is the resource snapshot sent to clients.
type ResourcePayload struct {
	Totals     rules.Resources `json:"totals"`
	Produced   rules.Resources `json:"produced"`
	Consumed   rules.Resources `json:"consumed"`
	Net        rules.Resources `json:"net"`
	Efficiency float64         `json:"efficiency"`
	Imbalance  float64         `json:"imbalance"`
	Multiplier int             `json:"multiplier"`
}

func resourcePayload(isl *world.Island, tick production.Tick) ResourcePayload {
	return ResourcePayload{
		Totals:     isl.Resources,
		Produced:   tick.Produced,
		Consumed:   tick.Consumed,
		Net:        tick.Net,
		Efficiency: tick.Efficiency,
		Imbalance:  tick.Imbalance,
		Multiplier: isl.TimeMultiplier,
	}
}

type IslandView struct {
	Island       *world.Island           `json:"island"`
	Buildings    []world.Building        `json:"buildings"`
	Resources    ResourcePayload         `json:"resources"`
	Requirements production.Requirements `json:"requirements"`
	TicksApplied int                     `json:"ticks_applied"`
}

func (s *Service) buildView(isl *world.Island, buildings []world.Building, current production.Tick, ticks int) *IslandView {
	if buildings == nil {
		buildings = []world.Building{}
	}
	return &IslandView{
		Island:       isl,
		Buildings:    buildings,
		Resources:    resourcePayload(isl, current),
		Requirements: production.CheckRequirements(current, buildings, s.cfg.MinEfficiency),
		TicksApplied: ticks,
	}
}

// GetIsland returns a reconciled view of any island.
func (s *Service) GetIsland(ctx context.Context, islandID int64) (*IslandView, error) {
	return s.reconciledView(ctx, func(tx world.Tx) (*world.Island, error) {
		return tx.LockIsland(ctx, islandID)
	})
}

// GetIslandForUser returns a reconciled view of the actor's own island.
func (s *Service) GetIslandForUser(ctx context.Context, actor auth.Identity) (*IslandView, error) {
	return s.reconciledView(ctx, func(tx world.Tx) (*world.Island, error) {
		return tx.LockIslandByUser(ctx, actor.UserID)
	})
}

func (s *Service) reconciledView(ctx context.Context, lock func(tx world.Tx) (*world.Island, error)) (*IslandView, error) {
	var view *IslandView
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := lock(tx)
		if err != nil {
			return err
		}
		rec, err := s.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = rec.Events
		view = s.buildView(isl, rec.Buildings, rec.Current, rec.TicksApplied)
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("failed to load island", err)
	}

	events.EmitAll(ctx, s.emitter, pending)
	return view, nil
}

// WorldIsland is one entry of the world map.
type WorldIsland struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Score          int             `json:"score"`
	BuildingCount  int             `json:"building_count"`
	Efficiency     float64         `json:"efficiency"`
	Multiplier     int             `json:"multiplier"`
	Resources      rules.Resources `json:"resources"`
	AlphaCompleted bool            `json:"alpha_completed"`
}

// ListWorld summarises every island from stored state without reconciling.
// Score is the sum of building levels.
func (s *Service) ListWorld(ctx context.Context) ([]WorldIsland, error) {
	out := []WorldIsland{}

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		islands, err := tx.ListIslands(ctx)
		if err != nil {
			return err
		}
		for _, isl := range islands {
			buildings, err := tx.ListBuildings(ctx, isl.ID)
			if err != nil {
				return err
			}
			score := 0
			for _, b := range buildings {
				score += b.Level
			}
			out = append(out, WorldIsland{
				ID:             isl.ID,
				UserID:         isl.UserID,
				Score:          score,
				BuildingCount:  len(buildings),
				Efficiency:     s.table.EfficiencyFor(isl.Resources),
				Multiplier:     isl.TimeMultiplier,
				Resources:      isl.Resources,
				AlphaCompleted: isl.AlphaCompleted,
			})
		}
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("failed to list islands", err)
	}
	return out, nil
}
