package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const islandColumns = `id, user_id, energy, water, biomass, time_multiplier, last_tick_at,
	first_level3_announced, alpha_completed, grid, created_at, updated_at`

type IslandRepository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewIslandRepository(db *database.DB, logger *slog.Logger) *IslandRepository {
	return &IslandRepository{db: db, logger: logger}
}

func (r *IslandRepository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIsland(row rowScanner) (*world.Island, error) {
	var isl world.Island
	var grid []byte
	err := row.Scan(
		&isl.ID,
		&isl.UserID,
		&isl.Resources.Energy,
		&isl.Resources.Water,
		&isl.Resources.Biomass,
		&isl.TimeMultiplier,
		&isl.LastTickAt,
		&isl.FirstLevel3Announced,
		&isl.AlphaCompleted,
		&grid,
		&isl.CreatedAt,
		&isl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(grid) > 0 {
		if err := json.Unmarshal(grid, &isl.Grid); err != nil {
			return nil, fmt.Errorf("failed to decode grid: %w", err)
		}
	}
	return &isl, nil
}

func (r *IslandRepository) lockOne(ctx context.Context, where string, arg any, tx *database.Tx, notFound error) (*world.Island, error) {
	query := `SELECT ` + islandColumns + ` FROM islands WHERE ` + where + ` FOR UPDATE`

	isl, err := scanIsland(r.getExecutor(tx).QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, notFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock island: %w", err)
	}
	return isl, nil
}

func (r *IslandRepository) LockByID(ctx context.Context, islandID int64, tx *database.Tx) (*world.Island, error) {
	return r.lockOne(ctx, "id = $1", islandID, tx, errors.NotFoundf("island %d not found", islandID))
}

func (r *IslandRepository) LockByUserID(ctx context.Context, userID int64, tx *database.Tx) (*world.Island, error) {
	return r.lockOne(ctx, "user_id = $1", userID, tx, errors.NotFoundf("island not found for user %d", userID))
}

func (r *IslandRepository) List(ctx context.Context, forUpdate bool, tx *database.Tx) ([]world.Island, error) {
	logger := r.logger.With("component", "island_repository", "operation", "list_islands", "for_update", forUpdate)

	query := `SELECT ` + islandColumns + ` FROM islands ORDER BY id`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	rows, err := r.getExecutor(tx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query islands: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var islands []world.Island
	for rows.Next() {
		isl, err := scanIsland(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan island: %w", err)
		}
		islands = append(islands, *isl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating islands: %w", err)
	}

	return islands, nil
}

func (r *IslandRepository) ListIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM islands ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query island ids: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.Error("Failed to close rows", "component", "island_repository", "error", err)
		}
	}()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan island id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *IslandRepository) Create(ctx context.Context, isl *world.Island, tx *database.Tx) error {
	logger := r.logger.With("component", "island_repository", "operation", "create_island", "user_id", isl.UserID)

	grid, err := json.Marshal(isl.Grid)
	if err != nil {
		return fmt.Errorf("failed to encode grid: %w", err)
	}

	query := `
		INSERT INTO islands (user_id, energy, water, biomass, time_multiplier, last_tick_at,
			first_level3_announced, alpha_completed, grid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		RETURNING id, created_at, updated_at
	`

	err = r.getExecutor(tx).QueryRowContext(ctx, query,
		isl.UserID,
		isl.Resources.Energy,
		isl.Resources.Water,
		isl.Resources.Biomass,
		isl.TimeMultiplier,
		isl.LastTickAt,
		isl.FirstLevel3Announced,
		isl.AlphaCompleted,
		string(grid),
	).Scan(&isl.ID, &isl.CreatedAt, &isl.UpdatedAt)

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Conflictf("user %d already has an island", isl.UserID)
	}
	if err != nil {
		return fmt.Errorf("failed to create island: %w", err)
	}

	logger.Debug("Island created", "island_id", isl.ID)
	return nil
}

func (r *IslandRepository) Update(ctx context.Context, isl *world.Island, tx *database.Tx) error {
	grid, err := json.Marshal(isl.Grid)
	if err != nil {
		return fmt.Errorf("failed to encode grid: %w", err)
	}

	query := `
		UPDATE islands
		SET energy = $2, water = $3, biomass = $4, time_multiplier = $5, last_tick_at = $6,
			first_level3_announced = $7, alpha_completed = $8, grid = $9::jsonb, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err = r.getExecutor(tx).QueryRowContext(ctx, query,
		isl.ID,
		isl.Resources.Energy,
		isl.Resources.Water,
		isl.Resources.Biomass,
		isl.TimeMultiplier,
		isl.LastTickAt,
		isl.FirstLevel3Announced,
		isl.AlphaCompleted,
		string(grid),
	).Scan(&isl.UpdatedAt)
	if err == sql.ErrNoRows {
		return errors.NotFoundf("island %d not found", isl.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update island: %w", err)
	}
	return nil
}
