package backend

import (
	"net/http"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// Option 客户端选项
type Option func(*options)

type options struct {
	logger    clog.Logger
	meter     metrics.Meter
	transport http.RoundTripper
}

// WithLogger 注入日志记录器，自动添加 "backend" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("backend")
		}
	}
}

// WithMeter 注入指标 Meter
func WithMeter(m metrics.Meter) Option {
	return func(o *options) {
		if m != nil {
			o.meter = m
		}
	}
}

// WithTransport 替换底层 RoundTripper，外层仍会包一层 otelhttp
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// CallOption 单次调用选项
type CallOption func(*callOptions)

type callOptions struct {
	skipBreaker bool
	noRetry     bool
}

// WithoutBreaker 不经过熔断器，用于深度健康检查，探测结果也不计入熔断统计
func WithoutBreaker() CallOption {
	return func(o *callOptions) { o.skipBreaker = true }
}

// WithoutRetry 本次调用不重试
func WithoutRetry() CallOption {
	return func(o *callOptions) { o.noRetry = true }
}
