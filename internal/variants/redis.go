package variants

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/headline-goat/feed-goat/internal/logging"
)

// DefaultRedisTTL bounds how long a cached definition outlives its deploy.
const DefaultRedisTTL = 24 * time.Hour

// RedisStore is a read-through cache of another DefinitionStore. Keys carry
// the deploy version, so a new deploy reads fresh definitions. Redis errors
// fall through to the backing store.
type RedisStore struct {
	client  redis.Cmdable
	next    DefinitionStore
	version string
	ttl     time.Duration
	logger  *zap.Logger
}

func NewRedisStore(client redis.Cmdable, next DefinitionStore, version string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		client:  client,
		next:    next,
		version: version,
		ttl:     ttl,
		logger:  logging.OrNop(logger),
	}
}

// Key returns the cache key for a variant definition.
func (s *RedisStore) Key(name string) string {
	return "feed-goat:variants:" + s.version + ":" + name
}

func (s *RedisStore) Load(ctx context.Context, name string) ([]byte, error) {
	key := s.Key(name)

	data, err := s.client.Get(ctx, key).Bytes()
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, redis.Nil) {
		s.logger.Warn("variant cache read failed", zap.String("key", key), zap.Error(err))
	}

	data, err = s.next.Load(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		s.logger.Warn("variant cache write failed", zap.String("key", key), zap.Error(err))
	}
	return data, nil
}

// Names delegates to the backing store when it can list.
func (s *RedisStore) Names(ctx context.Context) ([]string, error) {
	if l, ok := s.next.(Lister); ok {
		return l.Names(ctx)
	}
	return nil, nil
}
