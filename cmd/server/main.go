package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orfeixyz/solara/internal/auth"
	"github.com/orfeixyz/solara/internal/core"
	"github.com/orfeixyz/solara/internal/events"
	"github.com/orfeixyz/solara/internal/island"
	"github.com/orfeixyz/solara/internal/middleware"
	"github.com/orfeixyz/solara/internal/presence"
	"github.com/orfeixyz/solara/internal/realtime"
	"github.com/orfeixyz/solara/internal/rules"
	"github.com/orfeixyz/solara/internal/server"
	serverHandlers "github.com/orfeixyz/solara/internal/server/handlers"
	"github.com/orfeixyz/solara/internal/shared/config"
	"github.com/orfeixyz/solara/internal/shared/database"
	"github.com/orfeixyz/solara/internal/shared/logger"
	"github.com/orfeixyz/solara/internal/shared/redis"
	"github.com/orfeixyz/solara/internal/storage/memory"
	"github.com/orfeixyz/solara/internal/storage/postgres"
	"github.com/orfeixyz/solara/internal/world"
)

func main() {
	if err := config.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init()

	if err := run(); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.GlobalConfig
	log := slog.With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table, err := loadRules(cfg.Game)
	if err != nil {
		return err
	}
	log.Info("Rules loaded", "grid_size", table.GridSize, "max_level", table.MaxLevel, "types", table.Types())

	store, db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	tracker, rdb, err := openPresence(cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var hub *realtime.Hub
	emitters := events.Multi{events.NewLogEmitter(slog.Default())}
	if cfg.Realtime.Enabled {
		hub = realtime.NewHub(cfg.Realtime, cfg.Frontend.URL, tracker, slog.Default())
		emitters = append(emitters, hub)
	}

	islandService := island.NewService(store, table, emitters, island.ConfigFrom(cfg.Game, cfg.Core), slog.Default())
	coreService := core.NewService(store, islandService, tracker, emitters, core.ConfigFrom(cfg.Core), slog.Default())
	if err := coreService.Bootstrap(ctx); err != nil {
		return err
	}

	if cfg.Game.TickerEnabled {
		ticker := island.NewTicker(islandService, store, emitters, cfg.Game.TickInterval, slog.Default())
		go ticker.Start(ctx)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiration)
	if err != nil {
		return fmt.Errorf("failed to initialize token manager: %w", err)
	}
	authMiddleware := middleware.NewAuth(tokens, cfg.Server.Environment == "production")

	var dbPinger, redisPinger serverHandlers.Pinger
	if db != nil {
		dbPinger = db
	}
	presenceBackend := "memory"
	if rdb != nil {
		presenceBackend = "redis"
		redisPinger = rdb
	}
	health := serverHandlers.NewHealthHandler(cfg.Storage.Driver, dbPinger, presenceBackend, redisPinger)

	routes := server.NewRoutes(health, islandService, coreService, tracker, hub, authMiddleware)
	var handler http.Handler = routes.Setup()
	handler = middleware.NewCORS(cfg.Frontend).Middleware(handler)
	if cfg.RateLimit.Enabled {
		handler = middleware.NewRateLimiter(ctx, cfg.RateLimit).Middleware(handler)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Server starting",
			"port", cfg.Server.Port,
			"environment", cfg.Server.Environment,
			"storage", cfg.Storage.Driver,
			"presence", presenceBackend,
			"realtime", cfg.Realtime.Enabled,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		log.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if hub != nil {
		hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

func loadRules(game config.GameConfig) (*rules.Table, error) {
	var table *rules.Table
	var err error
	if game.RulesPath != "" {
		table, err = rules.Load(game.RulesPath)
	} else {
		table, err = rules.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	table, err = table.WithLimits(game.GridSize, game.MaxBuildingLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	return table, nil
}

func openStore(ctx context.Context, cfg *config.Config) (world.Store, *database.DB, error) {
	if cfg.Storage.Driver == "memory" {
		slog.Warn("Using in-memory world store; state is lost on restart", "component", "main")
		return memory.NewStore(time.Now), nil, nil
	}

	db, err := database.Connect()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.RunMigrations(ctx, cfg.Database.MigrationsPath); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return postgres.NewStore(db, slog.Default()), db, nil
}

func openPresence(cfg *config.Config) (presence.Tracker, *redis.Client, error) {
	rdb, err := redis.Connect(cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	if rdb == nil {
		return presence.NewMemoryTracker(cfg.Presence.Window, time.Now), nil, nil
	}
	tracker := presence.NewRedisTracker(rdb.Client, cfg.Presence.KeyPrefix, cfg.Presence.Window, time.Now, slog.Default())
	return tracker, rdb, nil
}
