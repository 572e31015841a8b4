package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wuwenbin0122/turnrelay/internal/models"
	"github.com/wuwenbin0122/turnrelay/internal/utils"
)

const (
	keyPrefix  = "turnrelay:userctx:"
	defaultTTL = time.Minute
)

func NewRedisClient(ctx context.Context, cfg utils.RedisConfig) (*redis.Client, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, errors.New("redis address is empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// UserContextCache keeps a short-lived copy of a user's preferences and
// recent memories. Cache errors are logged and treated as misses; the store
// stays the source of truth.
type UserContextCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewUserContextCache(client redis.Cmdable, ttl time.Duration, logger *zap.Logger) *UserContextCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserContextCache{client: client, ttl: ttl, logger: logger}
}

func Key(userID string) string {
	return keyPrefix + userID
}

func (c *UserContextCache) Load(ctx context.Context, userID string) (*models.UserContext, bool) {
	raw, err := c.client.Get(ctx, Key(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("user context cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
		return nil, false
	}

	var uc models.UserContext
	if err := json.Unmarshal(raw, &uc); err != nil {
		c.logger.Warn("user context cache entry corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	return &uc, true
}

func (c *UserContextCache) Save(ctx context.Context, userID string, uc *models.UserContext) {
	if uc == nil {
		return
	}

	raw, err := json.Marshal(uc)
	if err != nil {
		c.logger.Warn("user context not cacheable", zap.String("user_id", userID), zap.Error(err))
		return
	}

	if err := c.client.Set(ctx, Key(userID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("user context cache write failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// Invalidate drops the cached entry, e.g. after preferences change.
func (c *UserContextCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, Key(userID)).Err()
}
