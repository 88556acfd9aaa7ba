package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTracker keeps last-seen times in a sorted set scored by unix millis
// and usernames in a hash, so every server instance sees the same active set.
type RedisTracker struct {
	client  redis.Cmdable
	window  time.Duration
	now     Clock
	seenKey string
	nameKey string
	logger  *slog.Logger
}

func NewRedisTracker(client redis.Cmdable, keyPrefix string, window time.Duration, now Clock, logger *slog.Logger) *RedisTracker {
	if now == nil {
		now = time.Now
	}
	return &RedisTracker{
		client:  client,
		window:  window,
		now:     now,
		seenKey: keyPrefix + ":seen",
		nameKey: keyPrefix + ":names",
		logger:  logger.With("component", "presence_redis"),
	}
}

func (t *RedisTracker) Touch(ctx context.Context, user User) error {
	member := strconv.FormatInt(user.UserID, 10)
	score := float64(t.now().UnixMilli())

	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, t.seenKey, redis.Z{Score: score, Member: member})
		pipe.HSet(ctx, t.nameKey, member, user.Username)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to record presence: %w", err)
	}
	return nil
}

func (t *RedisTracker) ActiveUsers(ctx context.Context) ([]User, error) {
	logger := t.logger.With("operation", "active_users")
	cutoff := strconv.FormatInt(t.now().Add(-t.window).UnixMilli(), 10)

	if err := t.client.ZRemRangeByScore(ctx, t.seenKey, "-inf", "("+cutoff).Err(); err != nil {
		logger.Warn("Failed to prune stale presence entries", "error", err)
	}

	members, err := t.client.ZRangeByScore(ctx, t.seenKey, &redis.ZRangeBy{Min: cutoff, Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence set: %w", err)
	}
	if len(members) == 0 {
		return []User{}, nil
	}

	names, err := t.client.HMGet(ctx, t.nameKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read presence names: %w", err)
	}

	users := make([]User, 0, len(members))
	for i, member := range members {
		id, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			logger.Warn("Skipping malformed presence member", "member", member)
			continue
		}
		user := User{UserID: id}
		if i < len(names) {
			if name, ok := names[i].(string); ok {
				user.Username = name
			}
		}
		users = append(users, user)
	}

	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users, nil
}
