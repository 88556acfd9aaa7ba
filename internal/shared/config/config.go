package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/orfeixyz/solara/internal/shared/utils"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Storage   StorageConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Frontend  FrontendConfig
	Logging   LoggingConfig
	RateLimit RateLimitConfig
	Game      GameConfig
	Core      CoreConfig
	Presence  PresenceConfig
	Realtime  RealtimeConfig
}

type RedisConfig struct {
	Enabled  bool
	URL      string
	Host     string
	Port     string
	Password string
	DB       int
}

type ServerConfig struct {
	Port         string
	URL          string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsPath  string
}

// StorageConfig selects the world store backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string
}

type AuthConfig struct {
	JWTSecret       string
	TokenExpiration time.Duration
}

type FrontendConfig struct {
	URL       string
	CORSDebug bool
}

type LoggingConfig struct {
	Level      string
	Format     string
	JSONFormat bool
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	BurstSize         int
	TrustProxy        bool
}

// GameConfig carries the production and grid constants injected into the
// rules table, the reconciler and the island service.
type GameConfig struct {
	RulesPath        string
	TickInterval     time.Duration
	MaxCatchupTicks  int
	GridSize         int
	MaxBuildingLevel int
	StartingEnergy   int64
	StartingWater    int64
	StartingBiomass  int64
	TickerEnabled    bool
}

type CoreConfig struct {
	GoalEnergy              int64
	GoalWater               int64
	GoalBiomass             int64
	RequireIslandReadiness  bool
	ActivationMinEfficiency float64
	ContributionHistory     int
}

type PresenceConfig struct {
	Window    time.Duration
	KeyPrefix string
}

type RealtimeConfig struct {
	Enabled         bool
	WriteTimeout    time.Duration
	AllowAnyOrigin  bool
	ReadBufferSize  int
	WriteBufferSize int
}

var GlobalConfig *Config

func Init() error {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using system environment variables")
	}

	config, err := load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	GlobalConfig = config
	return nil
}

func load() (*Config, error) {
	config := &Config{
		Server:    loadServerConfig(),
		Database:  loadDatabaseConfig(),
		Storage:   loadStorageConfig(),
		Redis:     loadRedisConfig(),
		Auth:      loadAuthConfig(),
		Frontend:  loadFrontendConfig(),
		Logging:   loadLoggingConfig(),
		RateLimit: loadRateLimitConfig(),
		Game:      loadGameConfig(),
		Core:      loadCoreConfig(),
		Presence:  loadPresenceConfig(),
		Realtime:  loadRealtimeConfig(),
	}

	return config, nil
}

func loadRedisConfig() RedisConfig {
	enabled := utils.GetEnv("REDIS_ENABLED", "true") == "true"
	redisURL := utils.GetEnv("REDIS_URL", "")

	db, _ := strconv.Atoi(utils.GetEnv("REDIS_DB", "0"))

	return RedisConfig{
		Enabled:  enabled,
		URL:      redisURL,
		Host:     utils.GetEnv("REDIS_HOST", "localhost"),
		Port:     utils.GetEnv("REDIS_PORT", "6379"),
		Password: utils.GetEnv("REDIS_PASSWORD", ""),
		DB:       db,
	}
}

func loadServerConfig() ServerConfig {
	readTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_READ_TIMEOUT_SECONDS", "15"))
	writeTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_WRITE_TIMEOUT_SECONDS", "15"))
	idleTimeout, _ := strconv.Atoi(utils.GetEnv("SERVER_IDLE_TIMEOUT_SECONDS", "60"))

	return ServerConfig{
		Port:         utils.GetEnv("SERVER_PORT", "4000"),
		URL:          utils.GetEnv("SERVER_URL", "http://localhost:4000"),
		Environment:  utils.GetEnv("ENVIRONMENT", "development"),
		ReadTimeout:  time.Duration(readTimeout) * time.Second,
		WriteTimeout: time.Duration(writeTimeout) * time.Second,
		IdleTimeout:  time.Duration(idleTimeout) * time.Second,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	maxOpenConns, _ := strconv.Atoi(utils.GetEnv("DB_MAX_OPEN_CONNS", "25"))
	maxIdleConns, _ := strconv.Atoi(utils.GetEnv("DB_MAX_IDLE_CONNS", "5"))
	connMaxLifetime, _ := strconv.Atoi(utils.GetEnv("DB_CONN_MAX_LIFETIME_MINUTES", "5"))

	return DatabaseConfig{
		Host:            utils.GetEnv("DB_HOST", "localhost"),
		Port:            utils.GetEnv("DB_PORT", "5432"),
		User:            utils.GetEnv("DB_USER", "postgres"),
		Password:        utils.GetEnv("DB_PASSWORD", "postgres"),
		Name:            utils.GetEnv("DB_NAME", "solara"),
		SSLMode:         utils.GetEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    maxOpenConns,
		MaxIdleConns:    maxIdleConns,
		ConnMaxLifetime: time.Duration(connMaxLifetime) * time.Minute,
		MigrationsPath:  utils.GetEnv("DB_MIGRATIONS_PATH", "migrations"),
	}
}

func loadStorageConfig() StorageConfig {
	return StorageConfig{
		Driver: utils.GetEnv("STORAGE_DRIVER", "postgres"),
	}
}

func loadAuthConfig() AuthConfig {
	tokenExpiration, _ := strconv.Atoi(utils.GetEnv("JWT_EXPIRATION_HOURS", "24"))

	return AuthConfig{
		JWTSecret:       utils.GetEnv("JWT_SECRET", ""),
		TokenExpiration: time.Duration(tokenExpiration) * time.Hour,
	}
}

func loadFrontendConfig() FrontendConfig {
	corsDebug := utils.GetEnv("CORS_DEBUG", "") == "true"

	return FrontendConfig{
		URL:       utils.GetEnv("FRONTEND_URL", "http://localhost:3000"),
		CORSDebug: corsDebug,
	}
}

func loadLoggingConfig() LoggingConfig {
	environment := utils.GetEnv("ENVIRONMENT", "development")
	jsonFormat := environment == "production"

	return LoggingConfig{
		Level:      utils.GetEnv("LOG_LEVEL", "debug"),
		Format:     utils.GetEnv("LOG_FORMAT", "text"),
		JSONFormat: jsonFormat,
	}
}

func loadRateLimitConfig() RateLimitConfig {
	enabled := utils.GetEnv("RATE_LIMIT_ENABLED", "true") == "true"
	requestsPerSecond, _ := strconv.ParseFloat(utils.GetEnv("RATE_LIMIT_REQUESTS_PER_SECOND", "10"), 64)
	burstSize, _ := strconv.Atoi(utils.GetEnv("RATE_LIMIT_BURST_SIZE", "20"))

	return RateLimitConfig{
		Enabled:           enabled,
		RequestsPerSecond: requestsPerSecond,
		BurstSize:         burstSize,
		TrustProxy:        utils.GetEnvBool("RATE_LIMIT_TRUST_PROXY", false),
	}
}

func loadGameConfig() GameConfig {
	return GameConfig{
		RulesPath:        utils.GetEnv("RULES_PATH", ""),
		TickInterval:     utils.GetEnvMillis("TICK_INTERVAL_MS", time.Minute),
		MaxCatchupTicks:  utils.GetEnvInt("MAX_CATCHUP_TICKS", 240),
		GridSize:         utils.GetEnvInt("GRID_SIZE", 5),
		MaxBuildingLevel: utils.GetEnvInt("MAX_BUILDING_LEVEL", 3),
		StartingEnergy:   utils.GetEnvInt64("STARTING_ENERGY", 220),
		StartingWater:    utils.GetEnvInt64("STARTING_WATER", 220),
		StartingBiomass:  utils.GetEnvInt64("STARTING_BIOMASS", 220),
		TickerEnabled:    utils.GetEnvBool("PRODUCTION_TICKER_ENABLED", true),
	}
}

func loadCoreConfig() CoreConfig {
	return CoreConfig{
		GoalEnergy:              utils.GetEnvInt64("CORE_GOAL_ENERGY", 1200),
		GoalWater:               utils.GetEnvInt64("CORE_GOAL_WATER", 800),
		GoalBiomass:             utils.GetEnvInt64("CORE_GOAL_BIOMASS", 1000),
		RequireIslandReadiness:  utils.GetEnvBool("CORE_REQUIRE_ISLAND_READINESS", true),
		ActivationMinEfficiency: utils.GetEnvFloat("CORE_MIN_EFFICIENCY", 90),
		ContributionHistory:     utils.GetEnvInt("CORE_CONTRIBUTION_HISTORY", 20),
	}
}

func loadPresenceConfig() PresenceConfig {
	windowSeconds := utils.GetEnvInt("PRESENCE_WINDOW_SECONDS", 90)

	return PresenceConfig{
		Window:    time.Duration(windowSeconds) * time.Second,
		KeyPrefix: utils.GetEnv("PRESENCE_KEY_PREFIX", "solara:presence"),
	}
}

func loadRealtimeConfig() RealtimeConfig {
	writeTimeout := utils.GetEnvInt("REALTIME_WRITE_TIMEOUT_SECONDS", 10)

	return RealtimeConfig{
		Enabled:         utils.GetEnvBool("ENABLE_REALTIME", true),
		WriteTimeout:    time.Duration(writeTimeout) * time.Second,
		AllowAnyOrigin:  utils.GetEnvBool("REALTIME_ALLOW_ANY_ORIGIN", false),
		ReadBufferSize:  utils.GetEnvInt("REALTIME_READ_BUFFER", 1024),
		WriteBufferSize: utils.GetEnvInt("REALTIME_WRITE_BUFFER", 1024),
	}
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("DB_HOST is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
	case "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.Storage.Driver)
	}

	if c.Game.TickInterval <= 0 {
		return fmt.Errorf("TICK_INTERVAL_MS must be positive")
	}

	if c.Game.MaxCatchupTicks < 1 {
		return fmt.Errorf("MAX_CATCHUP_TICKS must be at least 1")
	}

	if c.Game.GridSize < 1 {
		return fmt.Errorf("GRID_SIZE must be at least 1")
	}

	// Milestones and core activation need a level 3 building.
	if c.Game.MaxBuildingLevel < 3 {
		return fmt.Errorf("MAX_BUILDING_LEVEL must be at least 3")
	}

	if c.Game.StartingEnergy < 0 || c.Game.StartingWater < 0 || c.Game.StartingBiomass < 0 {
		return fmt.Errorf("starting resources must not be negative")
	}

	if c.Core.GoalEnergy < 0 || c.Core.GoalWater < 0 || c.Core.GoalBiomass < 0 {
		return fmt.Errorf("core goals must not be negative")
	}

	return nil
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Name,
		c.Database.SSLMode,
	)
}
