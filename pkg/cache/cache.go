package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another holder owns the lock.
var ErrLockHeld = errors.New("lock already held by another process")

// Lock is a held lease on a resource.
type Lock interface {
	Release(ctx context.Context) error
}

// Locker hands out short leases on named resources.
type Locker interface {
	AcquireLock(ctx context.Context, resourceID string, ttl time.Duration) (Lock, error)
}

// IdempotencyStore caches responses by client supplied key.
// GetIdempotent returns nil, nil on a miss. ClaimIdempotent stores
// InFlightMarker only when the key is absent and reports whether it did.
// ReleaseIdempotent drops the key while it still holds the marker.
type IdempotencyStore interface {
	GetIdempotent(ctx context.Context, idemKey string) ([]byte, error)
	SetIdempotent(ctx context.Context, idemKey string, data []byte, ttl time.Duration) error
	ClaimIdempotent(ctx context.Context, idemKey string, ttl time.Duration) (bool, error)
	ReleaseIdempotent(ctx context.Context, idemKey string) error
}

// InFlightMarker is the value held under a claimed key until the response is stored.
var InFlightMarker = []byte("processing")

func IdempotencyKey(key string) string {
	return fmt.Sprintf("idem:v1:%s", key)
}

func LockKey(resourceID string) string {
	return fmt.Sprintf("lock:%s", resourceID)
}

const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisCache backs locks and idempotency with redis.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisCache(addr, password string, db int, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        50,
		MinIdleConns:    5,
		PoolTimeout:     4 * time.Second,
		ConnMaxIdleTime: 5 * time.Minute,
		ConnMaxLifetime: 30 * time.Minute,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", addr))

	return &RedisCache{client: client, logger: logger}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) GetIdempotent(ctx context.Context, idemKey string) ([]byte, error) {
	data, err := c.client.Get(ctx, IdempotencyKey(idemKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("get idempotent: %w", err)
	}
	return data, nil
}

func (c *RedisCache) SetIdempotent(ctx context.Context, idemKey string, data []byte, ttl time.Duration) error {
	return c.client.Set(ctx, IdempotencyKey(idemKey), data, ttl).Err()
}

func (c *RedisCache) ClaimIdempotent(ctx context.Context, idemKey string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, IdempotencyKey(idemKey), InFlightMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim idempotent: %w", err)
	}
	return ok, nil
}

func (c *RedisCache) ReleaseIdempotent(ctx context.Context, idemKey string) error {
	if err := c.client.Eval(ctx, releaseScript, []string{IdempotencyKey(idemKey)}, InFlightMarker).Err(); err != nil {
		return fmt.Errorf("release idempotent: %w", err)
	}
	return nil
}

type redisLock struct {
	client *redis.Client
	key    string
	token  string
}

func (c *RedisCache) AcquireLock(ctx context.Context, resourceID string, ttl time.Duration) (Lock, error) {
	key := LockKey(resourceID)
	token := uuid.NewString()

	ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	c.logger.Debug("lock acquired",
		zap.String("resource", resourceID),
		zap.Duration("ttl", ttl))

	return &redisLock{client: c.client, key: key, token: token}, nil
}

// Release deletes the key only while it still carries our token.
func (l *redisLock) Release(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	if result == 0 {
		return fmt.Errorf("lock not owned by this token (expired or stolen)")
	}
	return nil
}
