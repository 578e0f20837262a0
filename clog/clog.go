// Package clog 为 BFF 提供基于 slog 的结构化日志组件。
//
// 特性：
//   - 抽象 Logger 接口，组件通过 WithLogger 注入，默认 Discard
//   - 层级命名空间，例如 "bff.aggregate"
//   - 从 Context 提取 request_id / user_id / plan 以及 OTel trace_id
//   - 运行时调整日志级别（配置热更新）
//
// 基本使用：
//
//	logger, _ := clog.New(&clog.Config{Level: "info", Format: "json"},
//	    clog.WithNamespace("bff"),
//	    clog.WithStandardContext(),
//	    clog.WithTraceContext(),
//	)
//	logger.InfoContext(ctx, "aggregate finished", clog.String("plan", "dashboard"))
package clog

import "fmt"

// New 创建一个新的 Logger 实例，config 为 nil 时使用 console/info 默认配置。
func New(config *Config, opts ...Option) (Logger, error) {
	if config == nil {
		config = &Config{}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return newLogger(config, applyOptions(opts...))
}
