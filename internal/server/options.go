package server

import (
	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// Option 组件初始化选项函数
type Option func(*options)

type options struct {
	logger     clog.Logger
	meter      metrics.Meter
	middleware []gin.HandlerFunc
	tracing    bool
}

// WithLogger 设置 Logger，内部会追加 namespace "server"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("server")
		}
	}
}

// WithMeter 设置 Meter，/metrics 暴露它的 Handler
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithMiddleware 追加在认证之后执行的中间件（例如限流）
func WithMiddleware(mw ...gin.HandlerFunc) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}

// WithTracing 启用 otelgin 入站 Span
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
