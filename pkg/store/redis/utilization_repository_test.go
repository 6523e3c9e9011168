package redis

import (
	"context"
	"testing"

	"devicefarm/pkg/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestUtilizationRepository_SetAndGet(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewUtilizationRepository(client)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "emulator-5555", 90000))
	assert.Equal(t, int64(90000), repo.Get(ctx, "emulator-5555"))

	stored, err := mr.Get("utilization:emulator-5555")
	require.NoError(t, err)
	assert.Equal(t, "90000", stored)
}

func TestUtilizationRepository_CorruptValuesReadAsZero(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewUtilizationRepository(client)
	ctx := context.Background()

	assert.Equal(t, int64(0), repo.Get(ctx, "missing"))

	require.NoError(t, mr.Set("utilization:garbage", "not-a-number"))
	assert.Equal(t, int64(0), repo.Get(ctx, "garbage"))

	require.NoError(t, mr.Set("utilization:undefined", "undefined"))
	assert.Equal(t, int64(0), repo.Get(ctx, "undefined"))

	require.NoError(t, mr.Set("utilization:float", "1500.7"))
	assert.Equal(t, int64(1500), repo.Get(ctx, "float"))
}

func TestUtilizationRepository_WrongTypeReadsAsZero(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewUtilizationRepository(client)

	_, err := mr.Lpush("utilization:list", "1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), repo.Get(context.Background(), "list"))
}

func TestUtilizationRepository_ServerDownReadsAsZero(t *testing.T) {
	mr, client := setupMiniredis(t)
	repo := NewUtilizationRepository(client)
	mr.Close()

	assert.Equal(t, int64(0), repo.Get(context.Background(), "emulator-5555"))
	assert.Error(t, repo.Set(context.Background(), "emulator-5555", 1))
}

func TestNewRedisClient(t *testing.T) {
	mr, _ := setupMiniredis(t)

	c, err := NewRedisClient(context.Background(), config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()
	assert.NotNil(t, c.GetClient())

	_, err = NewRedisClient(context.Background(), config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
