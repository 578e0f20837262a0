// Package connector 管理 BFF 依赖的外部连接：Redis（分布式缓存）与 NATS（缓存失效广播）。
//
// 连接器只负责连接的生命周期：NewXXX 创建但不连接，Connect 时才建立连接。
// 组件（cache、cache.Bus）只借用连接器，不调用 Close；应用层按 LIFO 顺序释放。
//
//	conn, _ := connector.NewRedis(&cfg.Redis, connector.WithLogger(logger))
//	if err := conn.Connect(ctx); err != nil {
//		return err
//	}
//	defer conn.Close()
package connector

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// Connector 所有连接器的通用行为，方法均并发安全
type Connector interface {
	// Connect 建立连接，可重复调用
	Connect(ctx context.Context) error
	// Close 关闭连接，可重复调用
	Close() error
	// HealthCheck 主动探测连接
	HealthCheck(ctx context.Context) error
	// IsHealthy 返回最近一次探测的结果
	IsHealthy() bool
	// Name 连接器名称
	Name() string
}

// RedisConnector Redis 连接器
type RedisConnector interface {
	Connector
	GetClient() *redis.Client
}

// NATSConnector NATS 连接器
type NATSConnector interface {
	Connector
	GetClient() *nats.Conn
}
