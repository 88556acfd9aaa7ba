package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/orfeixyz/solara/internal/shared/config"

	"github.com/redis/go-redis/v9"
)

// Client backs the presence tracker. It satisfies the health handler's
// Pinger so /api/server/health reports the presence backend too.
type Client struct {
	*redis.Client
}

// Connect returns nil, nil when Redis is disabled; callers fall back to
// in-memory presence.
func Connect(cfg config.RedisConfig) (*Client, error) {
	logger := slog.With("component", "redis", "operation", "connect")

	if !cfg.Enabled {
		logger.Info("Redis disabled, presence kept in memory")
		return nil, nil
	}

	opts, err := Options(cfg)
	if err != nil {
		logger.Error("Failed to parse Redis URL", "error", err)
		return nil, err
	}
	logger = logger.With("addr", opts.Addr, "db", opts.DB)
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("Failed to ping Redis", "error", err)
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Redis presence backend connected")

	return &Client{rdb}, nil
}

// Options builds client options from REDIS_URL when set, otherwise from the
// host/port pair. REDIS_DB overrides the URL's database only when non-zero.
func Options(cfg config.RedisConfig) (*redis.Options, error) {
	if cfg.URL != "" {
		opts, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		if cfg.DB != 0 {
			opts.DB = cfg.DB
		}
		return opts, nil
	}

	return &redis.Options{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}, nil
}

func (c *Client) PingContext(ctx context.Context) error {
	return c.Ping(ctx).Err()
}

func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
