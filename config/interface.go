// Package config 为 BFF 提供统一的配置加载能力，基于 Viper 实现。
//
// 优先级：环境变量 > .env > config.{env}.yaml > config.yaml > 默认值。
// 配置文件变更通过 fsnotify 推送给 Watch 的订阅者，例如日志级别热更新。
//
// 基本使用：
//
//	loader, _ := config.New(&config.Config{Defaults: config.AppDefaults(), Aliases: config.AppEnvAliases()})
//	_ = loader.Load(ctx)
//	app, _ := config.Decode(loader)
//
//	ch, _ := loader.Watch(ctx, "log.level")
//	for ev := range ch {
//		logger.Info("config changed", clog.String("key", ev.Key))
//	}
package config

import (
	"context"
	"time"
)

// Loader 配置加载器
type Loader interface {
	// Load 从所有来源加载配置
	Load(ctx context.Context) error

	// Get 获取原始配置值
	Get(key string) any

	// Unmarshal 将整个配置反序列化到结构体
	Unmarshal(v any) error

	// UnmarshalKey 将指定 Key 的配置反序列化到结构体
	UnmarshalKey(key string, v any) error

	// Watch 监听配置变化，ctx 取消后关闭通道
	Watch(ctx context.Context, key string) (<-chan Event, error)

	// Validate 验证当前配置的有效性
	Validate() error
}

// Event 配置变更事件
type Event struct {
	Key       string
	Value     any
	OldValue  any
	Source    string // "file"
	Timestamp time.Time
}
