// Package postgres implements world.Store on PostgreSQL. Island and core
// rows are locked with SELECT ... FOR UPDATE for the life of a transaction.
package postgres

import (
	"context"
	"log/slog"

	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/world"
)

var (
	_ world.Store = (*Store)(nil)
	_ world.Tx    = (*pgTx)(nil)
)

type Store struct {
	db          *database.DB
	islands     *IslandRepository
	buildings   *BuildingRepository
	core        *CoreRepository
	productions *ProductionLogRepository
	logger      *slog.Logger
}

func NewStore(db *database.DB, logger *slog.Logger) *Store {
	logger.Debug("Initializing postgres world store")

	return &Store{
		db:          db,
		islands:     NewIslandRepository(db, logger),
		buildings:   NewBuildingRepository(db, logger),
		core:        NewCoreRepository(db, logger),
		productions: NewProductionLogRepository(db, logger),
		logger:      logger,
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx world.Tx) error) error {
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		return fn(&pgTx{store: s, tx: tx})
	})
}

func (s *Store) ListIslandIDs(ctx context.Context) ([]int64, error) {
	return s.islands.ListIDs(ctx)
}

type pgTx struct {
	store *Store
	tx    *database.Tx
}

func (t *pgTx) LockIsland(ctx context.Context, islandID int64) (*world.Island, error) {
	return t.store.islands.LockByID(ctx, islandID, t.tx)
}

func (t *pgTx) LockIslandByUser(ctx context.Context, userID int64) (*world.Island, error) {
	return t.store.islands.LockByUserID(ctx, userID, t.tx)
}

func (t *pgTx) LockAllIslands(ctx context.Context) ([]world.Island, error) {
	return t.store.islands.List(ctx, true, t.tx)
}

func (t *pgTx) ListIslands(ctx context.Context) ([]world.Island, error) {
	return t.store.islands.List(ctx, false, t.tx)
}

func (t *pgTx) CreateIsland(ctx context.Context, island *world.Island) error {
	return t.store.islands.Create(ctx, island, t.tx)
}

func (t *pgTx) UpdateIsland(ctx context.Context, island *world.Island) error {
	return t.store.islands.Update(ctx, island, t.tx)
}

func (t *pgTx) ListBuildings(ctx context.Context, islandID int64) ([]world.Building, error) {
	return t.store.buildings.ListByIsland(ctx, islandID, t.tx)
}

func (t *pgTx) InsertBuilding(ctx context.Context, building *world.Building) error {
	return t.store.buildings.Insert(ctx, building, t.tx)
}

func (t *pgTx) UpdateBuildingLevel(ctx context.Context, buildingID int64, level int) error {
	return t.store.buildings.UpdateLevel(ctx, buildingID, level, t.tx)
}

func (t *pgTx) DeleteBuilding(ctx context.Context, buildingID int64) error {
	return t.store.buildings.Delete(ctx, buildingID, t.tx)
}

func (t *pgTx) DeleteAllBuildings(ctx context.Context) error {
	return t.store.buildings.DeleteAll(ctx, t.tx)
}

func (t *pgTx) EnsureCore(ctx context.Context, goals rules.Resources) error {
	return t.store.core.Ensure(ctx, goals, t.tx)
}

func (t *pgTx) GetCore(ctx context.Context) (*world.CoreState, error) {
	return t.store.core.Get(ctx, false, t.tx)
}

func (t *pgTx) LockCore(ctx context.Context) (*world.CoreState, error) {
	return t.store.core.Get(ctx, true, t.tx)
}

func (t *pgTx) UpdateCore(ctx context.Context, core *world.CoreState) error {
	return t.store.core.Update(ctx, core, t.tx)
}

func (t *pgTx) InsertContribution(ctx context.Context, contribution *world.Contribution) error {
	return t.store.core.InsertContribution(ctx, contribution, t.tx)
}

func (t *pgTx) ListContributions(ctx context.Context, limit int) ([]world.Contribution, error) {
	return t.store.core.ListContributions(ctx, limit, t.tx)
}

func (t *pgTx) DeleteContributions(ctx context.Context) error {
	return t.store.core.DeleteContributions(ctx, t.tx)
}

func (t *pgTx) UpsertVote(ctx context.Context, vote world.RestartVote) error {
	return t.store.core.UpsertVote(ctx, vote, t.tx)
}

func (t *pgTx) ListVotes(ctx context.Context) ([]world.RestartVote, error) {
	return t.store.core.ListVotes(ctx, t.tx)
}

func (t *pgTx) DeleteVotes(ctx context.Context) error {
	return t.store.core.DeleteVotes(ctx, t.tx)
}

func (t *pgTx) InsertProductionLog(ctx context.Context, entry *world.ProductionLog) error {
	return t.store.productions.Insert(ctx, entry, t.tx)
}

func (t *pgTx) ListProductionLogs(ctx context.Context, islandID int64, limit int) ([]world.ProductionLog, error) {
	return t.store.productions.ListByIsland(ctx, islandID, limit, t.tx)
}

func (t *pgTx) DeleteProductionLogs(ctx context.Context) error {
	return t.store.productions.DeleteAll(ctx, t.tx)
}
