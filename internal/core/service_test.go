package core

import (
	"context"
	"testing"
	"time"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/island"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/production"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/shared/logger"
	"github.com/orfeixyz/solara/internal/storage/memory"
	"github.com/orfeixyz/solara/internal/world"
)

var (
	ana = auth.Identity{UserID: 1, Username: "ana"}
	bea = auth.Identity{UserID: 2, Username: "bea"}

	starting = rules.Resources{Energy: 200, Water: 200, Biomass: 200}
	goals    = rules.Resources{Energy: 1200, Water: 800, Biomass: 1000}
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

type fixture struct {
	store    *memory.Store
	clock    *testClock
	recorder *events.Recorder
	tracker  *presence.MemoryTracker
	islands  *island.Service
	service  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	table, err := rules.Default()
	if err != nil {
		t.Fatalf("rules.Default: %v", err)
	}

	clock := &testClock{t: time.Date(2026, 6, 1, 18, 0, 0, 0, time.UTC)}
	store := memory.NewStore(clock.Now)
	recorder := &events.Recorder{}
	tracker := presence.NewMemoryTracker(90*time.Second, clock.Now)

	islands := island.NewService(store, table, recorder, island.Config{
		TickInterval:    time.Minute,
		MaxCatchupTicks: 240,
		Starting:        starting,
		AlphaGoal:       goals,
		MinEfficiency:   90,
		Now:             clock.Now,
	}, logger.Discard())

	service := NewService(store, islands, tracker, recorder, Config{
		Goals:                  goals,
		RequireIslandReadiness: true,
		MinEfficiency:          90,
		ContributionHistory:    20,
		Now:                    clock.Now,
	}, logger.Discard())

	if err := service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	return &fixture{
		store:    store,
		clock:    clock,
		recorder: recorder,
		tracker:  tracker,
		islands:  islands,
		service:  service,
	}
}

func (f *fixture) createIsland(t *testing.T, actor auth.Identity) *world.Island {
	t.Helper()
	isl, err := f.islands.CreateIsland(context.Background(), actor)
	if err != nil {
		t.Fatalf("CreateIsland: %v", err)
	}
	return isl
}

func (f *fixture) tx(t *testing.T, fn func(ctx context.Context, tx world.Tx) error) {
	t.Helper()
	ctx := context.Background()
	if err := f.store.WithTx(ctx, func(tx world.Tx) error { return fn(ctx, tx) }); err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func (f *fixture) setIslandResources(t *testing.T, islandID int64, r rules.Resources) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		isl, err := tx.LockIsland(ctx, islandID)
		if err != nil {
			return err
		}
		isl.Resources = r
		return tx.UpdateIsland(ctx, isl)
	})
}

// makeReady places level 3 buildings that give a positive net in every
// resource at balanced totals.
func (f *fixture) makeReady(t *testing.T, islandID int64) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		for x, typ := range []rules.BuildingType{rules.SolarCenter, rules.BioGarden, rules.CommunityCenter} {
			b := &world.Building{IslandID: islandID, Type: typ, Level: 3, PosX: x, PosY: 0}
			if err := tx.InsertBuilding(ctx, b); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *fixture) setCore(t *testing.T, fn func(c *world.CoreState)) {
	t.Helper()
	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		c, err := tx.LockCore(ctx)
		if err != nil {
			return err
		}
		fn(c)
		return tx.UpdateCore(ctx, c)
	})
}

func (f *fixture) core(t *testing.T) *world.CoreState {
	t.Helper()
	var c *world.CoreState
	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		var err error
		c, err = tx.GetCore(ctx)
		return err
	})
	return c
}

func TestContributeThenActivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	isl := f.createIsland(t, ana)
	f.setIslandResources(t, isl.ID, rules.Resources{Energy: 1000, Water: 500, Biomass: 500})
	f.makeReady(t, isl.ID)
	f.setCore(t, func(c *world.CoreState) {
		c.Totals = rules.Resources{Energy: 800, Water: 800, Biomass: 1000}
	})

	result, err := f.service.Contribute(ctx, ana, rules.Resources{Energy: 500})
	if err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	if result.Core.Totals.Energy != 1300 {
		t.Fatalf("core energy = %d, want 1300", result.Core.Totals.Energy)
	}
	if result.Island.Resources.Energy != 500 {
		t.Fatalf("island energy = %d, want 500", result.Island.Resources.Energy)
	}
	if !result.GoalsReached || result.Remaining != (rules.Resources{}) {
		t.Fatalf("goals reached = %v remaining = %+v", result.GoalsReached, result.Remaining)
	}

	before := f.core(t).Totals
	activation, err := f.service.Activate(ctx, ana)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !activation.Core.Active || activation.AlreadyActive {
		t.Fatalf("activation = %+v", activation)
	}
	if activation.Core.ActivatedBy == nil || *activation.Core.ActivatedBy != ana.UserID {
		t.Fatalf("activated by = %v", activation.Core.ActivatedBy)
	}
	if activation.Requirements == nil || !activation.Requirements.Met {
		t.Fatalf("requirements = %+v", activation.Requirements)
	}

	stored := f.core(t)
	if stored.Totals != before {
		t.Fatalf("activate changed totals: %+v -> %+v", before, stored.Totals)
	}
	if len(f.recorder.OfType(events.CoreActivated)) != 1 {
		t.Fatalf("expected one core_activated event")
	}
}

func TestActivateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	isl := f.createIsland(t, ana)
	f.makeReady(t, isl.ID)
	f.setIslandResources(t, isl.ID, rules.Resources{Energy: 500, Water: 500, Biomass: 500})
	f.setCore(t, func(c *world.CoreState) { c.Totals = goals })

	if _, err := f.service.Activate(context.Background(), ana); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	result, err := f.service.Activate(context.Background(), ana)
	if err != nil {
		t.Fatalf("second Activate: %v", err)
	}
	if !result.AlreadyActive {
		t.Fatalf("expected already active")
	}
	if len(f.recorder.OfType(events.CoreActivated)) != 1 {
		t.Fatalf("core_activated emitted twice")
	}
}

func TestActivateOnActiveCoreSkipsIslandCheck(t *testing.T) {
	f := newFixture(t)
	f.setCore(t, func(c *world.CoreState) {
		c.Totals = goals
		c.Active = true
	})

	// bea has no island; the readiness check must not run on an active core.
	result, err := f.service.Activate(context.Background(), bea)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !result.AlreadyActive || !result.Core.Active {
		t.Fatalf("result = %+v", result)
	}
	if len(f.recorder.Events()) != 0 {
		t.Fatalf("no-op activation emitted %d events", len(f.recorder.Events()))
	}
}

func TestActivateGoalsNotReached(t *testing.T) {
	f := newFixture(t)
	isl := f.createIsland(t, ana)
	f.makeReady(t, isl.ID)
	f.setIslandResources(t, isl.ID, rules.Resources{Energy: 500, Water: 500, Biomass: 500})
	f.setCore(t, func(c *world.CoreState) {
		c.Totals = rules.Resources{Energy: 1199, Water: 800, Biomass: 1000}
	})

	_, err := f.service.Activate(context.Background(), ana)
	if !errors.Is(err, errors.ErrorTypeConflict) || err.Error() != "goals not reached" {
		t.Fatalf("err = %v, want goals not reached", err)
	}
	details := errors.GetDetails(err).(map[string]rules.Resources)
	if details["remaining"] != (rules.Resources{Energy: 1}) {
		t.Fatalf("remaining = %+v", details["remaining"])
	}
	if f.core(t).Active {
		t.Fatalf("core must stay inactive")
	}
}

func TestActivateRequirementsNotMet(t *testing.T) {
	f := newFixture(t)
	f.createIsland(t, ana)
	f.setCore(t, func(c *world.CoreState) { c.Totals = goals })

	_, err := f.service.Activate(context.Background(), ana)
	if !errors.Is(err, errors.ErrorTypeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	req, ok := errors.GetDetails(err).(*production.Requirements)
	if !ok {
		t.Fatalf("details = %#v", errors.GetDetails(err))
	}
	if req.HasLevel3Building || req.Met {
		t.Fatalf("requirements = %+v", req)
	}
}

func TestActivateWithoutReadinessCheck(t *testing.T) {
	f := newFixture(t)
	f.service.cfg.RequireIslandReadiness = false
	f.setCore(t, func(c *world.CoreState) { c.Totals = goals })

	// No island needed when readiness is off.
	result, err := f.service.Activate(context.Background(), ana)
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if !result.Core.Active || result.Requirements != nil {
		t.Fatalf("result = %+v", result)
	}
}

func TestContributeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	isl := f.createIsland(t, ana)

	if _, err := f.service.Contribute(ctx, ana, rules.Resources{}); !errors.Is(err, errors.ErrorTypeValidation) {
		t.Fatalf("zero amounts err = %v", err)
	}
	if _, err := f.service.Contribute(ctx, ana, rules.Resources{Energy: 10, Water: -1}); !errors.Is(err, errors.ErrorTypeValidation) {
		t.Fatalf("negative amounts err = %v", err)
	}

	_, err := f.service.Contribute(ctx, ana, rules.Resources{Water: 201})
	if !errors.Is(err, errors.ErrorTypeConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}

	var stored *world.Island
	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		var err error
		stored, err = tx.LockIsland(ctx, isl.ID)
		return err
	})
	if stored.Resources != starting {
		t.Fatalf("island changed on failed contribution: %+v", stored.Resources)
	}
	if f.core(t).Totals != (rules.Resources{}) {
		t.Fatalf("core changed on failed contribution")
	}

	if _, err := f.service.Contribute(ctx, bea, rules.Resources{Energy: 1}); !errors.Is(err, errors.ErrorTypeNotFound) {
		t.Fatalf("user without island err = %v", err)
	}
}

func TestContributionsOnlyIncreaseTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIsland(t, ana)

	var last rules.Resources
	for _, amounts := range []rules.Resources{{Energy: 10}, {Water: 5, Biomass: 7}, {Energy: 1, Water: 1, Biomass: 1}} {
		result, err := f.service.Contribute(ctx, ana, amounts)
		if err != nil {
			t.Fatalf("Contribute: %v", err)
		}
		if !result.Core.Totals.Covers(last) {
			t.Fatalf("totals decreased: %+v -> %+v", last, result.Core.Totals)
		}
		last = result.Core.Totals
	}
	if last != (rules.Resources{Energy: 11, Water: 6, Biomass: 8}) {
		t.Fatalf("totals = %+v", last)
	}

	view, err := f.service.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(view.Contributions) != 3 || view.Contributions[0].Amounts.Energy != 1 {
		t.Fatalf("contributions = %+v", view.Contributions)
	}
	if view.Ready || view.Remaining.Energy != 1189 {
		t.Fatalf("ready = %v remaining = %+v", view.Ready, view.Remaining)
	}
}

func activateCore(t *testing.T, f *fixture) {
	t.Helper()
	f.setCore(t, func(c *world.CoreState) {
		c.Totals = goals
		c.Active = true
	})
}

func TestRestartNeedsEveryActiveUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createIsland(t, ana)
	b := f.createIsland(t, bea)
	f.makeReady(t, a.ID)
	f.setIslandResources(t, b.ID, rules.Resources{Energy: 999, Water: 999, Biomass: 999})
	f.setCore(t, func(c *world.CoreState) { c.Totals = goals })
	if _, err := f.service.Contribute(ctx, bea, rules.Resources{Energy: 1}); err != nil {
		t.Fatalf("Contribute: %v", err)
	}
	activateCore(t, f)

	_ = f.tracker.Touch(ctx, presence.User{UserID: ana.UserID, Username: ana.Username})
	_ = f.tracker.Touch(ctx, presence.User{UserID: bea.UserID, Username: bea.Username})

	state, err := f.service.RequestRestart(ctx, ana)
	if err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	if !state.RestartRequested || state.RestartRequestedBy == nil || *state.RestartRequestedBy != ana.UserID {
		t.Fatalf("state = %+v", state)
	}

	result, err := f.service.AcceptRestart(ctx, ana)
	if err != nil {
		t.Fatalf("AcceptRestart by requester: %v", err)
	}
	if result.Restarted {
		t.Fatalf("restart must wait for bea")
	}
	if len(result.Pending) != 1 || result.Pending[0].UserID != bea.UserID {
		t.Fatalf("pending = %+v", result.Pending)
	}

	result, err = f.service.AcceptRestart(ctx, bea)
	if err != nil {
		t.Fatalf("AcceptRestart by bea: %v", err)
	}
	if !result.Restarted {
		t.Fatalf("unanimous vote must restart")
	}

	c := f.core(t)
	if c.Active || c.RestartRequested || c.Totals != (rules.Resources{}) || c.Goals != goals {
		t.Fatalf("core after restart = %+v", c)
	}

	f.tx(t, func(ctx context.Context, tx world.Tx) error {
		islands, err := tx.ListIslands(ctx)
		if err != nil {
			return err
		}
		for _, isl := range islands {
			if isl.Resources != starting || isl.TimeMultiplier != 1 || isl.FirstLevel3Announced || isl.Grid.Occupied() != 0 {
				t.Fatalf("island %d not reset: %+v", isl.ID, isl)
			}
			buildings, err := tx.ListBuildings(ctx, isl.ID)
			if err != nil {
				return err
			}
			if len(buildings) != 0 {
				t.Fatalf("island %d still has %d buildings", isl.ID, len(buildings))
			}
		}
		votes, _ := tx.ListVotes(ctx)
		contributions, _ := tx.ListContributions(ctx, 0)
		if len(votes) != 0 || len(contributions) != 0 {
			t.Fatalf("votes = %d contributions = %d after restart", len(votes), len(contributions))
		}
		return nil
	})

	if len(f.recorder.OfType(events.RestartCompleted)) != 1 {
		t.Fatalf("expected one restart_completed event")
	}
}

func TestRestartWithNoActiveUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIsland(t, ana)
	activateCore(t, f)

	if _, err := f.service.RequestRestart(ctx, ana); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	result, err := f.service.AcceptRestart(ctx, ana)
	if err != nil {
		t.Fatalf("AcceptRestart: %v", err)
	}
	if result.Restarted {
		t.Fatalf("an empty active set must never restart")
	}
	if !f.core(t).Active {
		t.Fatalf("core must stay active")
	}
}

func TestRestartIgnoresDepartedUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.createIsland(t, ana)
	f.createIsland(t, bea)
	activateCore(t, f)

	_ = f.tracker.Touch(ctx, presence.User{UserID: bea.UserID, Username: bea.Username})
	f.clock.t = f.clock.t.Add(5 * time.Minute)
	_ = f.tracker.Touch(ctx, presence.User{UserID: ana.UserID, Username: ana.Username})

	if _, err := f.service.RequestRestart(ctx, ana); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	result, err := f.service.AcceptRestart(ctx, ana)
	if err != nil {
		t.Fatalf("AcceptRestart: %v", err)
	}
	if !result.Restarted {
		t.Fatalf("bea is no longer active and must not block; active = %+v", result.ActiveUsers)
	}
}

func TestRestartPreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.service.RequestRestart(ctx, ana); !errors.Is(err, errors.ErrorTypeConflict) {
		t.Fatalf("request on inactive core err = %v", err)
	}
	if _, err := f.service.AcceptRestart(ctx, ana); !errors.Is(err, errors.ErrorTypeConflict) {
		t.Fatalf("accept on inactive core err = %v", err)
	}

	activateCore(t, f)
	if _, err := f.service.AcceptRestart(ctx, ana); !errors.Is(err, errors.ErrorTypeConflict) {
		t.Fatalf("accept without request err = %v", err)
	}
}

func TestRepeatedRestartRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	activateCore(t, f)

	if _, err := f.service.RequestRestart(ctx, ana); err != nil {
		t.Fatalf("RequestRestart: %v", err)
	}
	state, err := f.service.RequestRestart(ctx, bea)
	if err != nil {
		t.Fatalf("second RequestRestart: %v", err)
	}
	if *state.RestartRequestedBy != ana.UserID {
		t.Fatalf("first requester must be kept, got %d", *state.RestartRequestedBy)
	}
	if n := len(f.recorder.OfType(events.RestartRequested)); n != 1 {
		t.Fatalf("restart_requested emitted %d times", n)
	}

	view, err := f.service.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if len(view.Votes) != 2 {
		t.Fatalf("votes = %+v, want both requesters", view.Votes)
	}
}

func TestQuorum(t *testing.T) {
	votes := []world.RestartVote{{UserID: 1, Accepted: true}, {UserID: 3, Accepted: false}}

	tests := []struct {
		name    string
		active  []presence.User
		pending int
		ok      bool
	}{
		{"empty", nil, 0, false},
		{"all accepted", []presence.User{{UserID: 1}}, 0, true},
		{"one pending", []presence.User{{UserID: 1}, {UserID: 2}}, 1, false},
		{"declined vote", []presence.User{{UserID: 3}}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, ok := quorum(tt.active, votes)
			if ok != tt.ok || len(pending) != tt.pending {
				t.Fatalf("quorum = %v, %v", pending, ok)
			}
		})
	}
}
