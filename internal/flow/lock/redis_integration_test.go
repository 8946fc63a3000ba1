//go:build integration
// +build integration

package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ahrav/go-reviewflow/internal/flow/lock"
)

// setupRedisContainer creates and configures a real Redis container for integration testing.
// The container is automatically terminated when the test completes.
func setupRedisContainer(t *testing.T) *redis.Client {
	ctx := context.Background()

	container, err := redisContainer.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	_, err = client.Ping(ctx).Result()
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return client
}

func TestRedisLocker_RealRedis(t *testing.T) {
	ctx := context.Background()
	client := setupRedisContainer(t)

	// Two lockers model two processes sharing one Redis.
	a, err := lock.NewRedisLocker(client, time.Minute)
	require.NoError(t, err)
	b, err := lock.NewRedisLocker(client, time.Minute)
	require.NoError(t, err)

	key := lock.Key{SessionID: "p1", Operation: "validate"}

	tok, err := a.TryAcquire(ctx, key)
	require.NoError(t, err)

	_, err = b.TryAcquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrBusy)

	// A foreign token must not release the lease.
	require.NoError(t, b.Release(ctx, lock.Token{Key: key, ID: "someone-else"}))
	_, err = b.TryAcquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, a.Release(ctx, tok))
	require.NoError(t, a.Release(ctx, tok))

	second, err := b.TryAcquire(ctx, key)
	require.NoError(t, err)

	// The stale token from a must not free b's lease.
	require.NoError(t, a.Release(ctx, tok))
	_, err = a.TryAcquire(ctx, key)
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, b.Release(ctx, second))
}

func TestRedisLocker_LeaseExpires(t *testing.T) {
	ctx := context.Background()
	client := setupRedisContainer(t)

	l, err := lock.NewRedisLocker(client, 200*time.Millisecond)
	require.NoError(t, err)
	key := lock.Key{SessionID: "p1", Operation: "search"}

	_, err = l.TryAcquire(ctx, key)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := l.TryAcquire(ctx, key)
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestNewRedisLocker_RequiresTTL(t *testing.T) {
	_, err := lock.NewRedisLocker(redis.NewClient(&redis.Options{}), 0)
	assert.Error(t, err)
}
