package clog

import "context"

// Logger 日志接口
//
// 带 Context 的方法会按 Option 中配置的规则提取字段，
// 例如 request_id、user_id 和 OTel trace_id。
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)

	DebugContext(ctx context.Context, msg string, fields ...Field)
	InfoContext(ctx context.Context, msg string, fields ...Field)
	WarnContext(ctx context.Context, msg string, fields ...Field)
	ErrorContext(ctx context.Context, msg string, fields ...Field)
	FatalContext(ctx context.Context, msg string, fields ...Field)

	// With 创建带预设字段的子 Logger
	With(fields ...Field) Logger

	// WithNamespace 追加命名空间，例如 "bff" -> "bff.aggregate"
	WithNamespace(parts ...string) Logger

	// SetLevel 动态调整日志级别，对同一 New 创建出的所有子 Logger 生效
	SetLevel(level Level) error

	// Flush 同步缓冲区
	Flush()
}
