package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/world"
)

type ProductionLogRepository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewProductionLogRepository(db *database.DB, logger *slog.Logger) *ProductionLogRepository {
	return &ProductionLogRepository{db: db, logger: logger}
}

func (r *ProductionLogRepository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *ProductionLogRepository) Insert(ctx context.Context, e *world.ProductionLog, tx *database.Tx) error {
	query := `
		INSERT INTO production_log (island_id, ticks, energy_produced, water_produced, biomass_produced,
			energy_consumed, water_consumed, biomass_consumed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := r.getExecutor(tx).QueryRowContext(ctx, query,
		e.IslandID, e.Ticks,
		e.Produced.Energy, e.Produced.Water, e.Produced.Biomass,
		e.Consumed.Energy, e.Consumed.Water, e.Consumed.Biomass,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert production log: %w", err)
	}
	return nil
}

func (r *ProductionLogRepository) ListByIsland(ctx context.Context, islandID int64, limit int, tx *database.Tx) ([]world.ProductionLog, error) {
	logger := r.logger.With("component", "production_log_repository", "operation", "list", "island_id", islandID)

	query := `
		SELECT id, island_id, ticks, energy_produced, water_produced, biomass_produced,
			energy_consumed, water_consumed, biomass_consumed, created_at
		FROM production_log
		WHERE island_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.getExecutor(tx).QueryContext(ctx, query, islandID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query production log: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var out []world.ProductionLog
	for rows.Next() {
		var e world.ProductionLog
		err := rows.Scan(&e.ID, &e.IslandID, &e.Ticks,
			&e.Produced.Energy, &e.Produced.Water, &e.Produced.Biomass,
			&e.Consumed.Energy, &e.Consumed.Water, &e.Consumed.Biomass,
			&e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan production log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ProductionLogRepository) DeleteAll(ctx context.Context, tx *database.Tx) error {
	if _, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM production_log`); err != nil {
		return fmt.Errorf("failed to clear production log: %w", err)
	}
	return nil
}

func requireAffected(result sql.Result, notFound error) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

// limitArg turns a non-positive limit into NULL, which Postgres reads as
// LIMIT ALL.
func limitArg(limit int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
}
