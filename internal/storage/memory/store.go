// Package memory is an in-process world store. Transactions are serialised
// behind one mutex and rolled back by restoring a snapshot taken at begin.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

var (
	_ world.Store = (*Store)(nil)
	_ world.Tx    = (*memTx)(nil)
)

type state struct {
	islands       map[int64]world.Island
	buildings     map[int64]world.Building
	core          *world.CoreState
	contributions []world.Contribution
	votes         map[int64]world.RestartVote
	productionLog []world.ProductionLog

	nextIslandID       int64
	nextBuildingID     int64
	nextContributionID int64
	nextLogID          int64
}

func newState() state {
	return state{
		islands:   map[int64]world.Island{},
		buildings: map[int64]world.Building{},
		votes:     map[int64]world.RestartVote{},
	}
}

func (s state) clone() state {
	c := s
	c.islands = make(map[int64]world.Island, len(s.islands))
	for id, isl := range s.islands {
		c.islands[id] = cloneIsland(isl)
	}
	c.buildings = make(map[int64]world.Building, len(s.buildings))
	for id, b := range s.buildings {
		c.buildings[id] = b
	}
	if s.core != nil {
		core := cloneCore(*s.core)
		c.core = &core
	}
	c.contributions = append([]world.Contribution(nil), s.contributions...)
	c.votes = make(map[int64]world.RestartVote, len(s.votes))
	for id, v := range s.votes {
		c.votes[id] = v
	}
	c.productionLog = append([]world.ProductionLog(nil), s.productionLog...)
	return c
}

type Store struct {
	mu    sync.Mutex
	state state
	now   func() time.Time
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{state: newState(), now: now}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx world.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapStorage("transaction not started", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	tx := &memTx{st: &s.state, now: s.now}
	if err := fn(tx); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *Store) ListIslandIDs(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.state.islands))
	for id := range s.state.islands {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) LockIsland(_ context.Context, islandID int64) (*world.Island, error) {
	isl, ok := t.st.islands[islandID]
	if !ok {
		return nil, errors.NotFoundf("island %d not found", islandID)
	}
	c := cloneIsland(isl)
	return &c, nil
}

func (t *memTx) LockIslandByUser(_ context.Context, userID int64) (*world.Island, error) {
	for _, isl := range t.st.islands {
		if isl.UserID == userID {
			c := cloneIsland(isl)
			return &c, nil
		}
	}
	return nil, errors.NotFoundf("island not found for user %d", userID)
}

func (t *memTx) LockAllIslands(ctx context.Context) ([]world.Island, error) {
	return t.ListIslands(ctx)
}

func (t *memTx) ListIslands(_ context.Context) ([]world.Island, error) {
	islands := make([]world.Island, 0, len(t.st.islands))
	for _, isl := range t.st.islands {
		islands = append(islands, cloneIsland(isl))
	}
	sort.Slice(islands, func(i, j int) bool { return islands[i].ID < islands[j].ID })
	return islands, nil
}

func (t *memTx) CreateIsland(_ context.Context, island *world.Island) error {
	for _, existing := range t.st.islands {
		if existing.UserID == island.UserID {
			return errors.Conflictf("user %d already has an island", island.UserID)
		}
	}
	t.st.nextIslandID++
	now := t.now()
	island.ID = t.st.nextIslandID
	island.CreatedAt = now
	island.UpdatedAt = now
	t.st.islands[island.ID] = cloneIsland(*island)
	return nil
}

func (t *memTx) UpdateIsland(_ context.Context, island *world.Island) error {
	if _, ok := t.st.islands[island.ID]; !ok {
		return errors.NotFoundf("island %d not found", island.ID)
	}
	island.UpdatedAt = t.now()
	t.st.islands[island.ID] = cloneIsland(*island)
	return nil
}

func (t *memTx) ListBuildings(_ context.Context, islandID int64) ([]world.Building, error) {
	var out []world.Building
	for _, b := range t.st.buildings {
		if b.IslandID == islandID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PosY != out[j].PosY {
			return out[i].PosY < out[j].PosY
		}
		return out[i].PosX < out[j].PosX
	})
	return out, nil
}

func (t *memTx) InsertBuilding(_ context.Context, building *world.Building) error {
	for _, b := range t.st.buildings {
		if b.IslandID == building.IslandID && b.PosX == building.PosX && b.PosY == building.PosY {
			return errors.Conflict("cell is not empty")
		}
	}
	t.st.nextBuildingID++
	building.ID = t.st.nextBuildingID
	building.CreatedAt = t.now()
	t.st.buildings[building.ID] = *building
	return nil
}

func (t *memTx) UpdateBuildingLevel(_ context.Context, buildingID int64, level int) error {
	b, ok := t.st.buildings[buildingID]
	if !ok {
		return errors.NotFoundf("building %d not found", buildingID)
	}
	b.Level = level
	t.st.buildings[buildingID] = b
	return nil
}

func (t *memTx) DeleteBuilding(_ context.Context, buildingID int64) error {
	if _, ok := t.st.buildings[buildingID]; !ok {
		return errors.NotFoundf("building %d not found", buildingID)
	}
	delete(t.st.buildings, buildingID)
	return nil
}

func (t *memTx) DeleteAllBuildings(_ context.Context) error {
	t.st.buildings = map[int64]world.Building{}
	return nil
}

func (t *memTx) EnsureCore(_ context.Context, goals rules.Resources) error {
	if t.st.core == nil {
		t.st.core = &world.CoreState{}
	}
	t.st.core.Goals = goals
	t.st.core.UpdatedAt = t.now()
	return nil
}

func (t *memTx) GetCore(_ context.Context) (*world.CoreState, error) {
	if t.st.core == nil {
		return nil, errors.NotFoundf("core state not found")
	}
	c := cloneCore(*t.st.core)
	return &c, nil
}

func (t *memTx) LockCore(ctx context.Context) (*world.CoreState, error) {
	return t.GetCore(ctx)
}

func (t *memTx) UpdateCore(_ context.Context, core *world.CoreState) error {
	if t.st.core == nil {
		return errors.NotFoundf("core state not found")
	}
	core.UpdatedAt = t.now()
	c := cloneCore(*core)
	t.st.core = &c
	return nil
}

func (t *memTx) InsertContribution(_ context.Context, contribution *world.Contribution) error {
	t.st.nextContributionID++
	contribution.ID = t.st.nextContributionID
	contribution.CreatedAt = t.now()
	t.st.contributions = append(t.st.contributions, *contribution)
	return nil
}

func (t *memTx) ListContributions(_ context.Context, limit int) ([]world.Contribution, error) {
	n := len(t.st.contributions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]world.Contribution, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, t.st.contributions[i])
	}
	return out, nil
}

func (t *memTx) DeleteContributions(_ context.Context) error {
	t.st.contributions = nil
	return nil
}

func (t *memTx) UpsertVote(_ context.Context, vote world.RestartVote) error {
	t.st.votes[vote.UserID] = vote
	return nil
}

func (t *memTx) ListVotes(_ context.Context) ([]world.RestartVote, error) {
	out := make([]world.RestartVote, 0, len(t.st.votes))
	for _, v := range t.st.votes {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (t *memTx) DeleteVotes(_ context.Context) error {
	t.st.votes = map[int64]world.RestartVote{}
	return nil
}

func (t *memTx) InsertProductionLog(_ context.Context, entry *world.ProductionLog) error {
	t.st.nextLogID++
	entry.ID = t.st.nextLogID
	entry.CreatedAt = t.now()
	t.st.productionLog = append(t.st.productionLog, *entry)
	return nil
}

func (t *memTx) ListProductionLogs(_ context.Context, islandID int64, limit int) ([]world.ProductionLog, error) {
	var out []world.ProductionLog
	for i := len(t.st.productionLog) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if e := t.st.productionLog[i]; e.IslandID == islandID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) DeleteProductionLogs(_ context.Context) error {
	t.st.productionLog = nil
	return nil
}

func cloneIsland(isl world.Island) world.Island {
	if isl.Grid != nil {
		grid := make(world.Grid, len(isl.Grid))
		for y, row := range isl.Grid {
			grid[y] = make([]*world.GridCell, len(row))
			for x, cell := range row {
				if cell != nil {
					c := *cell
					grid[y][x] = &c
				}
			}
		}
		isl.Grid = grid
	}
	return isl
}

func cloneCore(c world.CoreState) world.CoreState {
	if c.ActivatedBy != nil {
		v := *c.ActivatedBy
		c.ActivatedBy = &v
	}
	if c.ActivatedAt != nil {
		v := *c.ActivatedAt
		c.ActivatedAt = &v
	}
	if c.RestartRequestedBy != nil {
		v := *c.RestartRequestedBy
		c.RestartRequestedBy = &v
	}
	if c.RestartRequestedAt != nil {
		v := *c.RestartRequestedAt
		c.RestartRequestedAt = &v
	}
	return c
}
