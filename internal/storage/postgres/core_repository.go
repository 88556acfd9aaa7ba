package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/shared/errors"
	"github.com/orfeixyz/solara/internal/world"
)

const coreColumns = `energy, water, biomass, goal_energy, goal_water, goal_biomass, active,
	activated_by, activated_by_username, activated_at,
	restart_requested, restart_requested_by, restart_requested_by_username, restart_requested_at, updated_at`

// CoreRepository covers the core_state singleton and the rows that hang off
// it: contributions and restart votes.
type CoreRepository struct {
	db     *database.DB
	logger *slog.Logger
}

func NewCoreRepository(db *database.DB, logger *slog.Logger) *CoreRepository {
	return &CoreRepository{db: db, logger: logger}
}

func (r *CoreRepository) getExecutor(tx *database.Tx) database.Executor {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *CoreRepository) Ensure(ctx context.Context, goals rules.Resources, tx *database.Tx) error {
	query := `
		INSERT INTO core_state (id, goal_energy, goal_water, goal_biomass)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET goal_energy = EXCLUDED.goal_energy,
			goal_water = EXCLUDED.goal_water,
			goal_biomass = EXCLUDED.goal_biomass
	`
	if _, err := r.getExecutor(tx).ExecContext(ctx, query, world.CoreID, goals.Energy, goals.Water, goals.Biomass); err != nil {
		return fmt.Errorf("failed to ensure core state: %w", err)
	}
	return nil
}

func (r *CoreRepository) Get(ctx context.Context, forUpdate bool, tx *database.Tx) (*world.CoreState, error) {
	query := `SELECT ` + coreColumns + ` FROM core_state WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var c world.CoreState
	err := r.getExecutor(tx).QueryRowContext(ctx, query, world.CoreID).Scan(
		&c.Totals.Energy,
		&c.Totals.Water,
		&c.Totals.Biomass,
		&c.Goals.Energy,
		&c.Goals.Water,
		&c.Goals.Biomass,
		&c.Active,
		&c.ActivatedBy,
		&c.ActivatedByUsername,
		&c.ActivatedAt,
		&c.RestartRequested,
		&c.RestartRequestedBy,
		&c.RestartRequestedByUsername,
		&c.RestartRequestedAt,
		&c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("core state not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load core state: %w", err)
	}
	return &c, nil
}

func (r *CoreRepository) Update(ctx context.Context, c *world.CoreState, tx *database.Tx) error {
	query := `
		UPDATE core_state
		SET energy = $2, water = $3, biomass = $4, active = $5,
			activated_by = $6, activated_by_username = $7, activated_at = $8,
			restart_requested = $9, restart_requested_by = $10,
			restart_requested_by_username = $11, restart_requested_at = $12,
			updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.getExecutor(tx).QueryRowContext(ctx, query,
		world.CoreID,
		c.Totals.Energy,
		c.Totals.Water,
		c.Totals.Biomass,
		c.Active,
		c.ActivatedBy,
		c.ActivatedByUsername,
		c.ActivatedAt,
		c.RestartRequested,
		c.RestartRequestedBy,
		c.RestartRequestedByUsername,
		c.RestartRequestedAt,
	).Scan(&c.UpdatedAt)
	if err == sql.ErrNoRows {
		return errors.NotFoundf("core state not found")
	}
	if err != nil {
		return fmt.Errorf("failed to update core state: %w", err)
	}
	return nil
}

func (r *CoreRepository) InsertContribution(ctx context.Context, c *world.Contribution, tx *database.Tx) error {
	query := `
		INSERT INTO core_contributions (user_id, username, island_id, energy, water, biomass)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := r.getExecutor(tx).QueryRowContext(ctx, query,
		c.UserID, c.Username, c.IslandID, c.Amounts.Energy, c.Amounts.Water, c.Amounts.Biomass,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

func (r *CoreRepository) ListContributions(ctx context.Context, limit int, tx *database.Tx) ([]world.Contribution, error) {
	logger := r.logger.With("component", "core_repository", "operation", "list_contributions")

	query := `
		SELECT id, user_id, username, island_id, energy, water, biomass, created_at
		FROM core_contributions
		ORDER BY created_at DESC, id DESC
		LIMIT $1
	`

	rows, err := r.getExecutor(tx).QueryContext(ctx, query, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var out []world.Contribution
	for rows.Next() {
		var c world.Contribution
		err := rows.Scan(&c.ID, &c.UserID, &c.Username, &c.IslandID,
			&c.Amounts.Energy, &c.Amounts.Water, &c.Amounts.Biomass, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *CoreRepository) DeleteContributions(ctx context.Context, tx *database.Tx) error {
	if _, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM core_contributions`); err != nil {
		return fmt.Errorf("failed to clear contributions: %w", err)
	}
	return nil
}

func (r *CoreRepository) UpsertVote(ctx context.Context, v world.RestartVote, tx *database.Tx) error {
	query := `
		INSERT INTO restart_votes (user_id, username, accepted, voted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET username = EXCLUDED.username, accepted = EXCLUDED.accepted, voted_at = EXCLUDED.voted_at
	`
	if _, err := r.getExecutor(tx).ExecContext(ctx, query, v.UserID, v.Username, v.Accepted, v.VotedAt); err != nil {
		return fmt.Errorf("failed to upsert restart vote: %w", err)
	}
	return nil
}

func (r *CoreRepository) ListVotes(ctx context.Context, tx *database.Tx) ([]world.RestartVote, error) {
	logger := r.logger.With("component", "core_repository", "operation", "list_votes")

	rows, err := r.getExecutor(tx).QueryContext(ctx,
		`SELECT user_id, username, accepted, voted_at FROM restart_votes ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query restart votes: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			logger.Error("Failed to close rows", "error", err)
		}
	}()

	var out []world.RestartVote
	for rows.Next() {
		var v world.RestartVote
		if err := rows.Scan(&v.UserID, &v.Username, &v.Accepted, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan restart vote: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *CoreRepository) DeleteVotes(ctx context.Context, tx *database.Tx) error {
	if _, err := r.getExecutor(tx).ExecContext(ctx, `DELETE FROM restart_votes`); err != nil {
		return fmt.Errorf("failed to clear restart votes: %w", err)
	}
	return nil
}
