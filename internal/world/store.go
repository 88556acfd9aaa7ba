// Package world defines the persisted game entities and the transactional
// store boundary the island and core services run against.
package world

import (
	"context"

	"github.com/orfeixyz/solara/internal/rules"
)

// Store opens transactions. fn's error aborts the transaction and nothing it
// wrote becomes visible; a nil return commits.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// ListIslandIDs reads outside any transaction, ascending.
	ListIslandIDs(ctx context.Context) ([]int64, error)
}

// Tx is the set of reads and writes available inside one transaction.
// Lock* methods hold the row exclusively until the transaction ends.
// Missing rows are reported as not_found application errors.
type Tx interface {
	LockIsland(ctx context.Context, islandID int64) (*Island, error)
	LockIslandByUser(ctx context.Context, userID int64) (*Island, error)
	// LockAllIslands locks every island in ascending id order.
	LockAllIslands(ctx context.Context) ([]Island, error)
	ListIslands(ctx context.Context) ([]Island, error)
	// CreateIsland assigns ID and timestamps; a second island for the same
	// user is a conflict.
	CreateIsland(ctx context.Context, island *Island) error
	UpdateIsland(ctx context.Context, island *Island) error

	// ListBuildings returns the island's buildings ordered by (pos_y, pos_x).
	ListBuildings(ctx context.Context, islandID int64) ([]Building, error)
	InsertBuilding(ctx context.Context, building *Building) error
	UpdateBuildingLevel(ctx context.Context, buildingID int64, level int) error
	DeleteBuilding(ctx context.Context, buildingID int64) error
	DeleteAllBuildings(ctx context.Context) error

	// EnsureCore creates the core row when missing and sets its goals.
	EnsureCore(ctx context.Context, goals rules.Resources) error
	GetCore(ctx context.Context) (*CoreState, error)
	LockCore(ctx context.Context) (*CoreState, error)
	UpdateCore(ctx context.Context, core *CoreState) error

	InsertContribution(ctx context.Context, contribution *Contribution) error
	// ListContributions returns the newest contributions first.
	ListContributions(ctx context.Context, limit int) ([]Contribution, error)
	DeleteContributions(ctx context.Context) error

	UpsertVote(ctx context.Context, vote RestartVote) error
	ListVotes(ctx context.Context) ([]RestartVote, error)
	DeleteVotes(ctx context.Context) error

	InsertProductionLog(ctx context.Context, entry *ProductionLog) error
	ListProductionLogs(ctx context.Context, islandID int64, limit int) ([]ProductionLog, error)
	DeleteProductionLogs(ctx context.Context) error
}
