package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/connector"
)

// NewMiniRedis 启动进程内 Redis，生命周期由 t.Cleanup 管理
func NewMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

// GetRedisConfig 返回指向 addr 的 Redis 测试配置
func GetRedisConfig(addr string) *connector.RedisConfig {
	return &connector.RedisConfig{
		Name:         "test-redis",
		Addr:         addr,
		PoolSize:     4,
		DialTimeout:  time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	}
}

// GetRedisConnector 启动 miniredis 并返回已连接的连接器
func GetRedisConnector(t *testing.T) (connector.RedisConnector, *miniredis.Miniredis) {
	t.Helper()
	mr := NewMiniRedis(t)
	conn, err := connector.NewRedis(GetRedisConfig(mr.Addr()), connector.WithLogger(NewLogger()))
	require.NoError(t, err, "failed to create redis connector")
	require.NoError(t, conn.Connect(context.Background()), "failed to connect to miniredis")

	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn, mr
}
