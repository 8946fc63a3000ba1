//go:build integration
// +build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	redisContainer "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/ahrav/go-reviewflow/internal/flow/configuration"
	"github.com/ahrav/go-reviewflow/internal/flow/store"
)

// setupRedisContainer starts a real Redis container and returns its
// endpoint and a connected client. The container is terminated when the
// test completes.
func setupRedisContainer(t *testing.T) (string, *redis.Client) {
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

	client, err := store.DialRedis(ctx, configuration.RedisConfig{Addr: endpoint})
	require.NoError(t, err)

	return endpoint, client
}

func TestRedisBackend_RealRedis(t *testing.T) {
	ctx := context.Background()
	_, client := setupRedisContainer(t)
	s := store.New(store.NewRedisBackend(client))
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Set(ctx, "p1", "UPLOAD", uploadResult{File: "x"}))
	require.NoError(t, s.Set(ctx, "p1", store.FieldCurrentStepIndex, 1))
	// Glob metacharacters in a neighbouring session id must not widen matches.
	require.NoError(t, s.Set(ctx, "p*", "UPLOAD", uploadResult{File: "star"}))

	var out uploadResult
	found, err := s.Get(ctx, "p1", "UPLOAD", &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", out.File)

	fields, err := s.Fields(ctx, "p*")
	require.NoError(t, err)
	assert.Len(t, fields, 1)

	require.NoError(t, s.Clear(ctx, "p*"))

	fields, err = s.Fields(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, fields, 2, "clearing p* must not remove p1")

	require.NoError(t, s.Clear(ctx, "p1"))
	found, err = s.Get(ctx, "p1", "UPLOAD", &out)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestDialRedis_Unreachable(t *testing.T) {
	_, err := store.DialRedis(context.Background(), configuration.RedisConfig{
		Addr:           "127.0.0.1:1",
		ConnectTimeout: 200 * time.Millisecond,
	})
	assert.Error(t, err)
}
