package connector

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisConnector(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	conn, err := NewRedis(&RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	assert.Equal(t, "cache", conn.Name())
	assert.False(t, conn.IsHealthy())

	require.NoError(t, conn.Connect(ctx))
	assert.True(t, conn.IsHealthy())
	require.NoError(t, conn.GetClient().Set(ctx, "k", "v", 0).Err())
	assert.NoError(t, conn.HealthCheck(ctx))

	mr.Close()
	assert.Error(t, conn.HealthCheck(ctx))
	assert.False(t, conn.IsHealthy())

	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestRedisConfigURL(t *testing.T) {
	mr := miniredis.RunT(t)

	conn, err := NewRedis(&RedisConfig{URL: "redis://" + mr.Addr() + "/2"})
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, 2, conn.GetClient().Options().DB)
	assert.NoError(t, conn.Connect(context.Background()))

	_, err = NewRedis(&RedisConfig{URL: "://bad"})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewRedis(&RedisConfig{})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = NewNATS(&NATSConfig{})
	assert.ErrorIs(t, err, ErrConfig)

	conn, err := NewNATS(&NATSConfig{URL: "nats://127.0.0.1:4222"})
	require.NoError(t, err)
	assert.Equal(t, "bff", conn.Name())
	assert.Nil(t, conn.GetClient())
	assert.ErrorIs(t, conn.HealthCheck(context.Background()), ErrNotConnected)
	assert.NoError(t, conn.Close())
}
