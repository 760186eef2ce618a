package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisLocker(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger, _ := zap.NewDevelopment()
	return NewRedis(client, logger, opts...), mr
}

// exerciseMutualExclusion runs n goroutines that each increment a counter
// non-atomically under the lock.
func exerciseMutualExclusion(t *testing.T, locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}, n int) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		counter int
		active  atomic.Int32
		overlap atomic.Bool
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(context.Background(), "instance:t1:i1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			v := counter
			time.Sleep(time.Millisecond)
			counter = v + 1
			active.Add(-1)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load(), "two holders observed at once")
	assert.Equal(t, n, counter)
}

func TestLocal_MutualExclusion(t *testing.T) {
	l := NewLocal()
	exerciseMutualExclusion(t, l, 20)
	assert.Equal(t, 0, l.Len(), "entries should be released")
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	unlockB, err := l.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocal_ContextCancelled(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, l.Len())
}

func TestRedis_MutualExclusion(t *testing.T) {
	locker, _ := setupRedisLocker(t, WithRetryDelay(time.Millisecond))
	exerciseMutualExclusion(t, locker, 10)
}

func TestRedis_ReleaseDeletesKey(t *testing.T) {
	locker, mr := setupRedisLocker(t, WithPrefix("test"))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:k"))

	unlock()
	assert.False(t, mr.Exists("test:k"))
}

func TestRedis_ReleaseKeepsForeignToken(t *testing.T) {
	locker, mr := setupRedisLocker(t, WithPrefix("test"), WithTTL(time.Second))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)

	// lease expired and another process took the key
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set("test:k", "someone-else"))

	unlock()
	got, err := mr.Get("test:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", got)
}

func TestRedis_WaitTimeout(t *testing.T) {
	locker, _ := setupRedisLocker(t, WithWaitTimeout(30*time.Millisecond), WithRetryDelay(5*time.Millisecond))

	unlock, err := locker.Lock(context.Background(), "k")
	require.NoError(t, err)
	defer unlock()

	_, err = locker.Lock(context.Background(), "k")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

func TestRedis_Ping(t *testing.T) {
	locker, mr := setupRedisLocker(t)
	assert.NoError(t, locker.Ping(context.Background()))

	mr.Close()
	assert.Error(t, locker.Ping(context.Background()))
}
