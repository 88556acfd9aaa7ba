package island

import (
	"context"
	"log/slog"
	"time"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/production"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

type Config struct {
	TickInterval    time.Duration
	MaxCatchupTicks int
	Starting        rules.Resources
	// AlphaGoal and MinEfficiency drive the alpha_completed milestone.
	AlphaGoal     rules.Resources
	MinEfficiency float64
	// Now defaults to time.Now.
	Now func() time.Time
}

func ConfigFrom(game config.GameConfig, core config.CoreConfig) Config {
	return Config{
		TickInterval:    game.TickInterval,
		MaxCatchupTicks: game.MaxCatchupTicks,
		Starting: rules.Resources{
			Energy:  game.StartingEnergy,
			Water:   game.StartingWater,
			Biomass: game.StartingBiomass,
		},
		AlphaGoal: rules.Resources{
			Energy:  core.GoalEnergy,
			Water:   core.GoalWater,
			Biomass: core.GoalBiomass,
		},
		MinEfficiency: core.ActivationMinEfficiency,
	}
}

type Service struct {
	store   world.Store
	table   *rules.Table
	emitter events.Emitter
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

func NewService(store world.Store, table *rules.Table, emitter events.Emitter, cfg Config, logger *slog.Logger) *Service {
	logger.Debug("Initializing island service")

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:   store,
		table:   table,
		emitter: emitter,
		cfg:     cfg,
		now:     now,
		logger:  logger,
	}
}

func (s *Service) Rules() *rules.Table {
	return s.table
}

// MutationResult is returned by build, upgrade and destroy.
type MutationResult struct {
	Island                *world.Island    `json:"island"`
	Building              *world.Building  `json:"building,omitempty"`
	Buildings             []world.Building `json:"buildings"`
	Spent                 rules.Resources  `json:"spent"`
	Tick                  production.Tick  `json:"tick"`
	FirstLevel3ReachedNow bool             `json:"first_level3_reached_now"`
}

// CreateIsland is the registration hook: one island per user, starting
// totals, multiplier 1 and an empty grid.
func (s *Service) CreateIsland(ctx context.Context, actor auth.Identity) (*world.Island, error) {
	logger := s.logger.With("component", "island_service", "operation", "create_island", "user_id", actor.UserID)

	now := s.now()
	isl := &world.Island{
		UserID:         actor.UserID,
		Resources:      s.cfg.Starting,
		TimeMultiplier: 1,
		LastTickAt:     now,
		Grid:           world.EmptyGrid(s.table.GridSize),
	}

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		return tx.CreateIsland(ctx, isl)
	})
	if err != nil {
		return nil, errors.AsStorage("failed to create island", err)
	}

	logger.Info("Island created", "island_id", isl.ID)
	s.emitter.Emit(ctx, events.New(events.ResourceUpdate, isl.ID, resourcePayload(isl, s.preview(isl, nil)), now))
	return isl, nil
}

func (s *Service) Build(ctx context.Context, actor auth.Identity, islandID int64, x, y int, buildingType string) (*MutationResult, error) {
	logger := s.logger.With("component", "island_service", "operation", "build",
		"island_id", islandID, "x", x, "y", y, "type", buildingType)

	var result *MutationResult
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := s.lockOwned(ctx, tx, actor, islandID)
		if err != nil {
			return err
		}
		if !s.table.InBounds(x, y) {
			return errors.Validationf("position (%d, %d) is outside the %dx%d grid", x, y, s.table.GridSize, s.table.GridSize)
		}
		typ, ok := s.table.NormalizeType(buildingType)
		if !ok {
			return errors.Validationf("unknown building type %q", buildingType)
		}

		rec, err := s.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = append(pending, rec.Events...)

		if _, occupied := world.BuildingAt(rec.Buildings, x, y); occupied {
			return errors.Conflict("cell is not empty")
		}

		cost, ok := s.table.GetBuildCost(typ, 1)
		if !ok {
			return errors.Validationf("building type %s has no level 1", typ)
		}
		if err := s.spend(isl, cost); err != nil {
			return err
		}

		building := world.Building{IslandID: isl.ID, Type: typ, Level: 1, PosX: x, PosY: y}
		if err := tx.InsertBuilding(ctx, &building); err != nil {
			return err
		}

		var evs []events.Event
		result, evs, err = s.finishMutation(ctx, tx, isl, &building, cost, "build")
		pending = append(pending, evs...)
		return err
	})
	if err != nil {
		return nil, errors.AsStorage("build failed", err)
	}

	logger.Info("Building placed", "building_id", result.Building.ID, "spent", result.Spent)
	events.EmitAll(ctx, s.emitter, pending)
	return result, nil
}

func (s *Service) Upgrade(ctx context.Context, actor auth.Identity, islandID int64, x, y int) (*MutationResult, error) {
	logger := s.logger.With("component", "island_service", "operation", "upgrade", "island_id", islandID, "x", x, "y", y)

	var result *MutationResult
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := s.lockOwned(ctx, tx, actor, islandID)
		if err != nil {
			return err
		}
		if !s.table.InBounds(x, y) {
			return errors.Validationf("position (%d, %d) is outside the %dx%d grid", x, y, s.table.GridSize, s.table.GridSize)
		}

		rec, err := s.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = append(pending, rec.Events...)

		building, ok := world.BuildingAt(rec.Buildings, x, y)
		if !ok {
			return errors.NotFoundf("no building found to upgrade at (%d, %d)", x, y)
		}
		next := building.Level + 1
		if next > s.table.MaxLevel {
			return errors.Conflictf("building is already at max level %d", s.table.MaxLevel)
		}

		cost, ok := s.table.GetBuildCost(building.Type, next)
		if !ok {
			return errors.Validationf("no level %d data for %s", next, building.Type)
		}
		if err := s.spend(isl, cost); err != nil {
			return err
		}

		if err := tx.UpdateBuildingLevel(ctx, building.ID, next); err != nil {
			return err
		}
		building.Level = next

		var evs []events.Event
		result, evs, err = s.finishMutation(ctx, tx, isl, &building, cost, "upgrade")
		pending = append(pending, evs...)
		return err
	})
	if err != nil {
		return nil, errors.AsStorage("upgrade failed", err)
	}

	logger.Info("Building upgraded", "building_id", result.Building.ID, "level", result.Building.Level)
	events.EmitAll(ctx, s.emitter, pending)
	return result, nil
}

// Destroy removes a building without refunding its cost.
func (s *Service) Destroy(ctx context.Context, actor auth.Identity, islandID int64, x, y int) (*MutationResult, error) {
	logger := s.logger.With("component", "island_service", "operation", "destroy", "island_id", islandID, "x", x, "y", y)

	var result *MutationResult
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := s.lockOwned(ctx, tx, actor, islandID)
		if err != nil {
			return err
		}
		if !s.table.InBounds(x, y) {
			return errors.Validationf("position (%d, %d) is outside the %dx%d grid", x, y, s.table.GridSize, s.table.GridSize)
		}

		rec, err := s.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = append(pending, rec.Events...)

		building, ok := world.BuildingAt(rec.Buildings, x, y)
		if !ok {
			return errors.NotFoundf("no building found at (%d, %d)", x, y)
		}
		if err := tx.DeleteBuilding(ctx, building.ID); err != nil {
			return err
		}

		var evs []events.Event
		result, evs, err = s.finishMutation(ctx, tx, isl, nil, rules.Resources{}, "destroy")
		if err != nil {
			return err
		}
		result.Building = &building
		pending = append(pending, evs...)
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("destroy failed", err)
	}

	logger.Info("Building destroyed", "building_id", result.Building.ID)
	events.EmitAll(ctx, s.emitter, pending)
	return result, nil
}

// SetTimeMultiplier reconciles at the old rate first, then switches.
func (s *Service) SetTimeMultiplier(ctx context.Context, actor auth.Identity, islandID int64, multiplier int) (*IslandView, error) {
	logger := s.logger.With("component", "island_service", "operation", "set_time_multiplier",
		"island_id", islandID, "multiplier", multiplier)

	if !s.table.AllowedMultiplier(multiplier) {
		return nil, errors.Validationf("time multiplier must be one of %v", s.table.Multipliers())
	}

	var view *IslandView
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := s.lockOwned(ctx, tx, actor, islandID)
		if err != nil {
			return err
		}

		rec, err := s.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = append(pending, rec.Events...)

		isl.TimeMultiplier = multiplier
		if err := tx.UpdateIsland(ctx, isl); err != nil {
			return err
		}

		current := s.preview(isl, rec.Buildings)
		view = s.buildView(isl, rec.Buildings, current, rec.TicksApplied)
		pending = append(pending, events.New(events.ResourceUpdate, isl.ID, resourcePayload(isl, current), s.now()))
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("failed to set time multiplier", err)
	}

	logger.Info("Time multiplier changed")
	events.EmitAll(ctx, s.emitter, pending)
	return view, nil
}

// lockOwned locks the island and checks the actor owns it.
func (s *Service) lockOwned(ctx context.Context, tx world.Tx, actor auth.Identity, islandID int64) (*world.Island, error) {
	isl, err := tx.LockIsland(ctx, islandID)
	if err != nil {
		return nil, err
	}
	if isl.UserID != actor.UserID {
		return nil, errors.Forbidden("island belongs to another player")
	}
	return isl, nil
}

func (s *Service) spend(isl *world.Island, cost rules.Resources) error {
	if !isl.Resources.Covers(cost) {
		return errors.ConflictWithDetails("insufficient resources", map[string]rules.Resources{
			"required":  cost,
			"available": isl.Resources,
			"missing":   isl.Resources.Remaining(cost),
		})
	}
	isl.Resources = isl.Resources.Sub(cost)
	return nil
}

// finishMutation regenerates the grid from the stored building list, sets the
// first level 3 milestone and persists the island, all in the caller's
// transaction.
func (s *Service) finishMutation(ctx context.Context, tx world.Tx, isl *world.Island, changed *world.Building, spent rules.Resources, action string) (*MutationResult, []events.Event, error) {
	buildings, err := tx.ListBuildings(ctx, isl.ID)
	if err != nil {
		return nil, nil, err
	}
	isl.Grid = world.BuildGrid(s.table.GridSize, buildings)

	reachedNow := false
	if changed != nil && changed.Level >= production.MilestoneLevel && !isl.FirstLevel3Announced {
		isl.FirstLevel3Announced = true
		reachedNow = true
	}

	if err := tx.UpdateIsland(ctx, isl); err != nil {
		return nil, nil, err
	}

	tick := s.preview(isl, buildings)
	now := s.now()
	evs := []events.Event{
		events.New(events.BuildingUpdate, isl.ID, map[string]any{
			"action":    action,
			"building":  changed,
			"buildings": buildings,
			"grid":      isl.Grid,
		}, now),
		events.New(events.ResourceUpdate, isl.ID, resourcePayload(isl, tick), now),
	}
	if reachedNow {
		evs = append(evs, events.New(events.Milestone, events.Global, map[string]any{
			"milestone": "first_level3",
			"island_id": isl.ID,
			"user_id":   isl.UserID,
			"building":  changed,
		}, now))
	}

	return &MutationResult{
		Island:                isl,
		Building:              changed,
		Buildings:             buildings,
		Spent:                 spent,
		Tick:                  tick,
		FirstLevel3ReachedNow: reachedNow,
	}, evs, nil
}

func (s *Service) preview(isl *world.Island, buildings []world.Building) production.Tick {
	return production.ComputeTick(s.table, isl.Resources, isl.TimeMultiplier, buildings)
}

// ResourceEvent snapshots isl's totals and current rates for clients.
func (s *Service) ResourceEvent(isl *world.Island, buildings []world.Building) events.Event {
	return events.New(events.ResourceUpdate, isl.ID, resourcePayload(isl, s.preview(isl, buildings)), s.now())
}

// ResetIsland returns isl to its registration state. Buildings are removed
// by the caller.
func (s *Service) ResetIsland(isl *world.Island, now time.Time) {
	isl.Resources = s.cfg.Starting
	isl.TimeMultiplier = 1
	isl.LastTickAt = now
	isl.FirstLevel3Announced = false
	isl.AlphaCompleted = false
	isl.Grid = world.EmptyGrid(s.table.GridSize)
}
