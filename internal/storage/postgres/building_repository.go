package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"

	"github.com/lib/pq"
)

type BuildingRepository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewBuildingRepository(db *database.DB, logger *slog.Logger) *BuildingRepository {
	return &BuildingRepository{db: db, logger: logger}
}

func (r *BuildingRepository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *BuildingRepository) ListByIsland(ctx context.Context, islandID int64, tx *database.Tx) ([]world.Building, error) {
	logger := r.logger.With("component", "building_repository", "operation", "list_buildings", "island_id", islandID)

	query := `
		SELECT id, island_id, type, level, pos_x, pos_y, created_at
		FROM buildings
		WHERE island_id = $1
		ORDER BY pos_y, pos_x
	`

	rows, err := r.getExecutor(tx).QueryContext(ctx, query, islandID)
	if err != nil {
		return nil, fmt.Errorf("failed to query buildings: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var buildings []world.Building
	for rows.Next() {
		var b world.Building
		if err := rows.Scan(&b.ID, &b.IslandID, &b.Type, &b.Level, &b.PosX, &b.PosY, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan building: %w", err)
		}
		buildings = append(buildings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating buildings: %w", err)
	}

	return buildings, nil
}

func (r *BuildingRepository) Insert(ctx context.Context, b *world.Building, tx *database.Tx) error {
	query := `
		INSERT INTO buildings (island_id, type, level, pos_x, pos_y)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`

	err := r.getExecutor(tx).QueryRowContext(ctx, query, b.IslandID, b.Type, b.Level, b.PosX, b.PosY).
		Scan(&b.ID, &b.CreatedAt)

	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return errors.Conflict("cell is not empty")
	}
	if err != nil {
		return fmt.Errorf("failed to insert building: %w", err)
	}
	return nil
}

func (r *BuildingRepository) UpdateLevel(ctx context.Context, buildingID int64, level int, tx *database.Tx) error {
	result, err := r.getExecutor(tx).ExecContext(ctx, `UPDATE buildings SET level = $2 WHERE id = $1`, buildingID, level)
	if err != nil {
		return fmt.Errorf("failed to update building level: %w", err)
	}
	return requireAffected(result, errors.NotFoundf("building %d not found", buildingID))
}

func (r *BuildingRepository) Delete(ctx context.Context, buildingID int64, tx *database.Tx) error {
	result, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM buildings WHERE id = $1`, buildingID)
	if err != nil {
		return fmt.Errorf("failed to delete building: %w", err)
	}
	return requireAffected(result, errors.NotFoundf("building %d not found", buildingID))
}

func (r *BuildingRepository) DeleteAll(ctx context.Context, tx *database.Tx) error {
	if _, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM buildings`); err != nil {
		return fmt.Errorf("failed to delete buildings: %w", err)
	}
	return nil
}
