package database

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// RunMigrations applies every *.sql file under dir that is not yet recorded
// in schema_migrations, in lexical order, one transaction per file.
func (db *DB) RunMigrations(ctx context.Context, dir string) error {
	logger := slog.With("component", "migrations", "dir", dir)
	logger.Info("Starting database migrations")

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	migrations, err := migrationFiles(os.DirFS(dir))
	if err != nil {
		return fmt.Errorf("failed to list migration files: %w", err)
	}

	logger.Info("Found migration files", "count", len(migrations))

	for _, name := range migrations {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if err := db.runMigration(ctx, name, string(content)); err != nil {
			logger.Error("Failed to run migration", "migration", name, "error", err)
			return fmt.Errorf("failed to run migration %s: %w", name, err)
		}
	}

	logger.Info("All migrations completed")
	return nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version VARCHAR(255) PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT NOW()
	)`

	_, err := db.ExecContext(ctx, query)
	return err
}

func migrationFiles(fsys fs.FS) ([]string, error) {
	var migrations []string

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".sql") {
			migrations = append(migrations, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(migrations)
	return migrations, nil
}

func (db *DB) runMigration(ctx context.Context, name, content string) error {
	logger := slog.With("component", "migrations", "operation", "run_migration", "migration", name)

	var exists bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)", name).Scan(&exists)
	if err != nil {
		return err
	}

	if exists {
		logger.Debug("Migration already applied, skipping")
		return nil
	}

	logger.Info("Running migration", "size_bytes", len(content))

	return db.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, content); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", name)
		return err
	})
}
