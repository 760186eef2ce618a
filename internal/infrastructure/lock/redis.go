package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/port"
)

// ErrLockTimeout is returned when a key stays held past the wait timeout
var ErrLockTimeout = errors.New("timed out waiting for instance lock")

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a token lock built on SET NX PX. The TTL bounds how long a
// crashed holder can block an instance.
type Redis struct {
	client      redis.UniversalClient
	prefix      string
	ttl         time.Duration
	waitTimeout time.Duration
	retryDelay  time.Duration
	logger      *zap.Logger
}

// RedisOption configures a Redis locker
type RedisOption func(*Redis)

// WithPrefix sets the key prefix. Default is "approval:lock".
func WithPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		r.prefix = prefix
	}
}

// WithTTL sets the lock lease
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

// WithWaitTimeout bounds how long Lock waits for a held key
func WithWaitTimeout(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.waitTimeout = d
		}
	}
}

// WithRetryDelay sets the polling interval while a key is held
func WithRetryDelay(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.retryDelay = d
		}
	}
}

// NewRedis creates a Redis-backed locker
func NewRedis(client redis.UniversalClient, logger *zap.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client:      client,
		prefix:      "approval:lock",
		ttl:         30 * time.Second,
		waitTimeout: 10 * time.Second,
		retryDelay:  25 * time.Millisecond,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock acquires key or fails with ErrLockTimeout
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + ":" + key
	token := uuid.NewString()

	waitCtx, cancel := context.WithTimeout(ctx, r.waitTimeout)
	defer cancel()

	ticker := time.NewTicker(r.retryDelay)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(waitCtx, redisKey, token, r.ttl).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("redis lock %s failed: %w", key, err)
		}
		if ok {
			break
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		case <-ticker.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
				r.logger.Error("Failed to release redis lock",
					zap.String("key", redisKey),
					zap.Error(err),
				)
			}
		})
	}, nil
}

// Ping checks connectivity for health reporting
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

var _ port.InstanceLocker = (*Redis)(nil)
