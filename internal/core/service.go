// Package core runs the shared core: cumulative contributions toward the
// goals, activation, and the unanimous restart vote that resets the world.
package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/island"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/production"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

type Config struct {
	Goals rules.Resources
	// RequireIslandReadiness adds the activator's own island to the gate.
	RequireIslandReadiness bool
	MinEfficiency          float64
	ContributionHistory    int
	Now                    func() time.Time
}

func ConfigFrom(core config.CoreConfig) Config {
	return Config{
		Goals: rules.Resources{
			Energy:  core.GoalEnergy,
			Water:   core.GoalWater,
			Biomass: core.GoalBiomass,
		},
		RequireIslandReadiness: core.RequireIslandReadiness,
		MinEfficiency:          core.ActivationMinEfficiency,
		ContributionHistory:    core.ContributionHistory,
	}
}

type Service struct {
	store    world.Store
	islands  *island.Service
	presence presence.Source
	emitter  events.Emitter
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
}

func NewService(store world.Store, islands *island.Service, presence presence.Source, emitter events.Emitter, cfg Config, logger *slog.Logger) *Service {
	logger.Debug("Initializing core service")

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:    store,
		islands:  islands,
		presence: presence,
		emitter:  emitter,
		cfg:      cfg,
		now:      now,
		logger:   logger,
	}
}

// Bootstrap creates the core row if needed and applies the configured goals.
func (s *Service) Bootstrap(ctx context.Context) error {
	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		return tx.EnsureCore(ctx, s.cfg.Goals)
	})
	if err != nil {
		return errors.AsStorage("failed to bootstrap core", err)
	}
	s.logger.Info("Core ready", "component", "core_service", "goals", s.cfg.Goals)
	return nil
}

type ContributionResult struct {
	Core         *world.CoreState   `json:"core"`
	Island       *world.Island      `json:"island"`
	Contribution world.Contribution `json:"contribution"`
	Remaining    rules.Resources    `json:"remaining"`
	GoalsReached bool               `json:"goals_reached"`
}

// Contribute moves resources from the actor's island into the core. The
// island is reconciled first so the funds check sees every due tick.
func (s *Service) Contribute(ctx context.Context, actor auth.Identity, amounts rules.Resources) (*ContributionResult, error) {
	logger := s.logger.With("component", "core_service", "operation", "contribute", "user_id", actor.UserID)

	if amounts.AnyNegative() {
		return nil, errors.Validation("contribution amounts must not be negative")
	}
	if amounts.IsZero() {
		return nil, errors.Validation("contribution must include at least one resource")
	}

	var result *ContributionResult
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		isl, err := tx.LockIslandByUser(ctx, actor.UserID)
		if err != nil {
			return err
		}
		rec, err := s.islands.ReconcileLocked(ctx, tx, isl)
		if err != nil {
			return err
		}
		pending = append(pending, rec.Events...)

		if !isl.Resources.Covers(amounts) {
			return errors.ConflictWithDetails("insufficient resources", map[string]rules.Resources{
				"requested": amounts,
				"available": isl.Resources,
				"missing":   isl.Resources.Remaining(amounts),
			})
		}
		isl.Resources = isl.Resources.Sub(amounts)
		if err := tx.UpdateIsland(ctx, isl); err != nil {
			return err
		}

		state, err := tx.LockCore(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		state.Totals = state.Totals.Add(amounts)
		state.UpdatedAt = now
		if err := tx.UpdateCore(ctx, state); err != nil {
			return err
		}

		contribution := world.Contribution{
			UserID:   actor.UserID,
			Username: actor.Username,
			IslandID: isl.ID,
			Amounts:  amounts,
		}
		if err := tx.InsertContribution(ctx, &contribution); err != nil {
			return err
		}

		result = &ContributionResult{
			Core:         state,
			Island:       isl,
			Contribution: contribution,
			Remaining:    state.Totals.Remaining(state.Goals),
			GoalsReached: state.Totals.Covers(state.Goals),
		}
		pending = append(pending,
			s.islands.ResourceEvent(isl, rec.Buildings),
			s.coreEvent(state, "contribute", now),
		)
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("contribution failed", err)
	}

	logger.Info("Contribution accepted", "amounts", amounts, "totals", result.Core.Totals)
	events.EmitAll(ctx, s.emitter, pending)
	return result, nil
}

type ActivationResult struct {
	Core          *world.CoreState         `json:"core"`
	AlreadyActive bool                     `json:"already_active"`
	Requirements  *production.Requirements `json:"requirements,omitempty"`
}

// Activate turns the core on once the goals are met and, when configured,
// the activator's island passes the readiness check. Activating an active
// core is a no-op. Totals are never touched.
func (s *Service) Activate(ctx context.Context, actor auth.Identity) (*ActivationResult, error) {
	logger := s.logger.With("component", "core_service", "operation", "activate", "user_id", actor.UserID)

	var result *ActivationResult
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		// Unlocked read so an active core short-circuits before any island
		// lock; the locked read below decides.
		current, err := tx.GetCore(ctx)
		if err != nil {
			return err
		}
		if current.Active {
			result = &ActivationResult{Core: current, AlreadyActive: true}
			return nil
		}

		var req *production.Requirements
		if s.cfg.RequireIslandReadiness {
			isl, err := tx.LockIslandByUser(ctx, actor.UserID)
			if err != nil {
				return err
			}
			rec, err := s.islands.ReconcileLocked(ctx, tx, isl)
			if err != nil {
				return err
			}
			pending = append(pending, rec.Events...)
			checked := production.CheckRequirements(rec.Current, rec.Buildings, s.cfg.MinEfficiency)
			req = &checked
		}

		state, err := tx.LockCore(ctx)
		if err != nil {
			return err
		}
		if state.Active {
			result = &ActivationResult{Core: state, AlreadyActive: true, Requirements: req}
			return nil
		}

		if !state.Totals.Covers(state.Goals) {
			return errors.ConflictWithDetails("goals not reached", map[string]rules.Resources{
				"totals":    state.Totals,
				"goals":     state.Goals,
				"remaining": state.Totals.Remaining(state.Goals),
			})
		}
		if req != nil && !req.Met {
			return errors.ConflictWithDetails("island does not meet the activation requirements", req)
		}

		now := s.now()
		activatedBy := actor.UserID
		state.Active = true
		state.ActivatedBy = &activatedBy
		state.ActivatedByUsername = actor.Username
		state.ActivatedAt = &now
		state.UpdatedAt = now
		if err := tx.UpdateCore(ctx, state); err != nil {
			return err
		}

		result = &ActivationResult{Core: state, Requirements: req}
		pending = append(pending,
			events.New(events.CoreActivated, events.Global, map[string]any{
				"user_id":  actor.UserID,
				"username": actor.Username,
				"totals":   state.Totals,
			}, now),
			s.coreEvent(state, "activate", now),
		)
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("activation failed", err)
	}

	if result.AlreadyActive {
		logger.Debug("Core already active")
	} else {
		logger.Info("Core activated")
	}
	events.EmitAll(ctx, s.emitter, pending)
	return result, nil
}

// RequestRestart opens a restart vote on an active core and counts the
// requester as accepted. Repeating it while a vote is open only refreshes
// the requester's vote.
func (s *Service) RequestRestart(ctx context.Context, actor auth.Identity) (*world.CoreState, error) {
	logger := s.logger.With("component", "core_service", "operation", "request_restart", "user_id", actor.UserID)

	var state *world.CoreState
	var pending []events.Event
	fresh := false

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		var err error
		state, err = tx.LockCore(ctx)
		if err != nil {
			return err
		}
		if !state.Active {
			return errors.Conflict("core is not active")
		}

		now := s.now()
		if !state.RestartRequested {
			fresh = true
			if err := tx.DeleteVotes(ctx); err != nil {
				return err
			}
			requestedBy := actor.UserID
			state.RestartRequested = true
			state.RestartRequestedBy = &requestedBy
			state.RestartRequestedByUsername = actor.Username
			state.RestartRequestedAt = &now
			state.UpdatedAt = now
			if err := tx.UpdateCore(ctx, state); err != nil {
				return err
			}
		}

		vote := world.RestartVote{UserID: actor.UserID, Username: actor.Username, Accepted: true, VotedAt: now}
		if err := tx.UpsertVote(ctx, vote); err != nil {
			return err
		}

		if fresh {
			pending = append(pending, events.New(events.RestartRequested, events.Global, map[string]any{
				"user_id":  actor.UserID,
				"username": actor.Username,
			}, now))
		}
		pending = append(pending, s.coreEvent(state, "request_restart", now))
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("restart request failed", err)
	}

	logger.Info("Restart requested", "fresh", fresh)
	events.EmitAll(ctx, s.emitter, pending)
	return state, nil
}

type RestartResult struct {
	Restarted   bool                `json:"restarted"`
	Core        *world.CoreState    `json:"core"`
	Votes       []world.RestartVote `json:"votes"`
	ActiveUsers []presence.User     `json:"active_users"`
	Pending     []presence.User     `json:"pending"`
}

// AcceptRestart records the actor's vote, then resets the world when every
// currently active user has accepted. An empty active set never restarts.
// The vote commits on its own; the reset locks islands before the core.
func (s *Service) AcceptRestart(ctx context.Context, actor auth.Identity) (*RestartResult, error) {
	logger := s.logger.With("component", "core_service", "operation", "accept_restart", "user_id", actor.UserID)

	result := &RestartResult{}
	var pending []events.Event

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		state, err := tx.LockCore(ctx)
		if err != nil {
			return err
		}
		if !state.Active {
			return errors.Conflict("core is not active")
		}
		if !state.RestartRequested {
			return errors.Conflict("no restart has been requested")
		}

		now := s.now()
		vote := world.RestartVote{UserID: actor.UserID, Username: actor.Username, Accepted: true, VotedAt: now}
		if err := tx.UpsertVote(ctx, vote); err != nil {
			return err
		}
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}

		result.Core = state
		result.Votes = votes
		pending = append(pending, events.New(events.RestartAccepted, events.Global, map[string]any{
			"user_id":  actor.UserID,
			"username": actor.Username,
			"votes":    len(votes),
		}, now))
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("restart vote failed", err)
	}
	events.EmitAll(ctx, s.emitter, pending)

	active, err := s.presence.ActiveUsers(ctx)
	if err != nil {
		return nil, errors.WrapStorage("failed to load active users", err)
	}
	result.ActiveUsers = nonNilUsers(active)
	var ok bool
	result.Pending, ok = quorum(active, result.Votes)
	if !ok {
		logger.Info("Restart vote recorded", "active", len(active), "pending", len(result.Pending))
		return result, nil
	}

	restarted, state, votes, err := s.reset(ctx, active)
	if err != nil {
		return nil, err
	}
	result.Restarted = restarted
	if state != nil {
		result.Core = state
		result.Votes = votes
	}
	return result, nil
}

// reset re-verifies the quorum under lock and wipes the world. It reports
// false when another caller got there first or the votes changed.
func (s *Service) reset(ctx context.Context, active []presence.User) (bool, *world.CoreState, []world.RestartVote, error) {
	logger := s.logger.With("component", "core_service", "operation", "restart")

	var state *world.CoreState
	var pending []events.Event
	restarted := false
	islandCount := 0

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		islands, err := tx.LockAllIslands(ctx)
		if err != nil {
			return err
		}
		state, err = tx.LockCore(ctx)
		if err != nil {
			return err
		}
		if !state.Active || !state.RestartRequested {
			return nil
		}
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		if _, ok := quorum(active, votes); !ok {
			return nil
		}

		if err := tx.DeleteAllBuildings(ctx); err != nil {
			return err
		}
		now := s.now()
		for i := range islands {
			isl := &islands[i]
			s.islands.ResetIsland(isl, now)
			if err := tx.UpdateIsland(ctx, isl); err != nil {
				return err
			}
			pending = append(pending, events.New(events.BuildingUpdate, isl.ID, map[string]any{
				"action":    "restart",
				"buildings": []world.Building{},
				"grid":      isl.Grid,
			}, now), s.islands.ResourceEvent(isl, nil))
		}

		state.Reset(now)
		if err := tx.UpdateCore(ctx, state); err != nil {
			return err
		}
		if err := tx.DeleteContributions(ctx); err != nil {
			return err
		}
		if err := tx.DeleteVotes(ctx); err != nil {
			return err
		}
		if err := tx.DeleteProductionLogs(ctx); err != nil {
			return err
		}

		restarted = true
		islandCount = len(islands)
		pending = append(pending,
			events.New(events.RestartCompleted, events.Global, map[string]any{
				"islands": islandCount,
			}, now),
			s.coreEvent(state, "restart", now),
		)
		return nil
	})
	if err != nil {
		return false, nil, nil, errors.AsStorage("restart failed", err)
	}

	if !restarted {
		logger.Info("Restart skipped after re-check")
		return false, nil, nil, nil
	}

	logger.Info("World restarted", "islands", islandCount, "voters", len(active))
	events.EmitAll(ctx, s.emitter, pending)
	return true, state, []world.RestartVote{}, nil
}

type StateView struct {
	Core          *world.CoreState     `json:"core"`
	Remaining     rules.Resources      `json:"remaining"`
	Ready         bool                 `json:"ready"`
	Contributions []world.Contribution `json:"contributions"`
	Votes         []world.RestartVote  `json:"votes"`
}

func (s *Service) GetState(ctx context.Context) (*StateView, error) {
	var view *StateView

	err := s.store.WithTx(ctx, func(tx world.Tx) error {
		state, err := tx.GetCore(ctx)
		if err != nil {
			return err
		}
		contributions, err := tx.ListContributions(ctx, s.cfg.ContributionHistory)
		if err != nil {
			return err
		}
		votes, err := tx.ListVotes(ctx)
		if err != nil {
			return err
		}
		if contributions == nil {
			contributions = []world.Contribution{}
		}
		if votes == nil {
			votes = []world.RestartVote{}
		}
		view = &StateView{
			Core:          state,
			Remaining:     state.Totals.Remaining(state.Goals),
			Ready:         state.Totals.Covers(state.Goals),
			Contributions: contributions,
			Votes:         votes,
		}
		return nil
	})
	if err != nil {
		return nil, errors.AsStorage("failed to load core state", err)
	}
	return view, nil
}

func (s *Service) coreEvent(state *world.CoreState, action string, now time.Time) events.Event {
	return events.New(events.CoreUpdate, events.Global, map[string]any{
		"action":    action,
		"core":      state,
		"remaining": state.Totals.Remaining(state.Goals),
		"ready":     state.Totals.Covers(state.Goals),
	}, now)
}

// quorum returns the active users without an accepted vote. ok is true only
// for a non-empty active set with nobody pending.
func quorum(active []presence.User, votes []world.RestartVote) (pending []presence.User, ok bool) {
	accepted := make(map[int64]bool, len(votes))
	for _, v := range votes {
		if v.Accepted {
			accepted[v.UserID] = true
		}
	}

	pending = []presence.User{}
	for _, u := range active {
		if !accepted[u.UserID] {
			pending = append(pending, u)
		}
	}

	if len(active) == 0 {
		return pending, false
	}
	return pending, len(pending) == 0
}

func nonNilUsers(users []presence.User) []presence.User {
	if users == nil {
		return []presence.User{}
	}
	return users
}
