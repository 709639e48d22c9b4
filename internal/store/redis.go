package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/estate-game/estate-server/internal/game"
	"github.com/estate-game/estate-server/internal/game/board"
)

const defaultCacheTTL = 30 * time.Minute

// Cache is the part of *redis.Client the store uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CachedStore keeps the latest committed session JSON in Redis in front of a
// durable store. The durable store is always written first; cache failures
// are logged and never fail a commit. A cached session that could not be
// refreshed is evicted so reads fall through to the durable copy.
type CachedStore struct {
	next   Store
	client Cache
	ttl    time.Duration
	logger *zap.Logger
}

var (
	_ game.ActionLog = (*CachedStore)(nil)
	_ game.ActionLog = (*MemoryStore)(nil)
	_ game.ActionLog = (*PostgresStore)(nil)
)

// NewCachedStore wraps next with a Redis cache. A zero ttl uses 30 minutes.
func NewCachedStore(next Store, client Cache, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{next: next, client: client, ttl: ttl, logger: logger}
}

func sessionKey(id string) string {
	return fmt.Sprintf("estate:session:%s", id)
}

func actionKey(sessionID, actionID string) string {
	return fmt.Sprintf("estate:session:%s:action:%s", sessionID, actionID)
}

func (c *CachedStore) LoadSession(ctx context.Context, id string) (*game.Session, error) {
	data, err := c.client.Get(ctx, sessionKey(id)).Bytes()
	switch {
	case err == nil:
		s, decodeErr := decodeSession(data)
		if decodeErr == nil {
			return s, nil
		}
		c.logger.Warn("dropping unreadable cached session", zap.String("session_id", id), zap.Error(decodeErr))
		c.client.Del(ctx, sessionKey(id))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("session cache read failed", zap.String("session_id", id), zap.Error(err))
	}

	s, err := c.next.LoadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.put(ctx, s); err != nil {
		c.logger.Warn("session cache write failed", zap.String("session_id", id), zap.Error(err))
	}
	return s, nil
}

func (c *CachedStore) Commit(ctx context.Context, s *game.Session, actionID string) error {
	if err := c.next.Commit(ctx, s, actionID); err != nil {
		return err
	}
	if err := c.put(ctx, s); err != nil {
		c.evict(ctx, s.ID, err)
	}
	if actionID != "" {
		if err := c.client.SetNX(ctx, actionKey(s.ID, actionID), s.Version, c.ttl).Err(); err != nil {
			c.logger.Warn("action cache write failed",
				zap.String("session_id", s.ID),
				zap.String("action_id", actionID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// AppliedVersion reports the version an action was applied at. Redis answers
// first; a miss or an unreachable cache falls through to the durable store.
func (c *CachedStore) AppliedVersion(ctx context.Context, sessionID, actionID string) (int64, bool, error) {
	v, err := c.client.Get(ctx, actionKey(sessionID, actionID)).Int64()
	switch {
	case err == nil:
		return v, true, nil
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("action cache read failed",
			zap.String("session_id", sessionID),
			zap.String("action_id", actionID),
			zap.Error(err),
		)
	}
	if log, ok := c.next.(game.ActionLog); ok {
		return log.AppliedVersion(ctx, sessionID, actionID)
	}
	return 0, false, nil
}

func (c *CachedStore) DeleteSession(ctx context.Context, id string) error {
	if err := c.next.DeleteSession(ctx, id); err != nil {
		return err
	}
	if err := c.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		c.logger.Warn("session cache delete failed", zap.String("session_id", id), zap.Error(err))
	}
	return nil
}

func (c *CachedStore) SeedTemplates(ctx context.Context, b *board.Board) error {
	return c.next.SeedTemplates(ctx, b)
}

func (c *CachedStore) LoadTemplates(ctx context.Context) ([]board.SquareTemplate, error) {
	return c.next.LoadTemplates(ctx)
}

func (c *CachedStore) put(ctx context.Context, s *game.Session) error {
	data, err := encodeSession(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, sessionKey(s.ID), data, c.ttl).Err()
}

// evict drops a cached session that may now be older than the durable one.
func (c *CachedStore) evict(ctx context.Context, id string, cause error) {
	if err := c.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		c.logger.Error("stale session left in cache",
			zap.String("session_id", id),
			zap.NamedError("write_error", cause),
			zap.Error(err),
		)
		return
	}
	c.logger.Warn("session cache write failed, entry evicted", zap.String("session_id", id), zap.Error(cause))
}
