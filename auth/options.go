package auth

import (
	"time"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// Option 配置选项函数
type Option func(*options)

type options struct {
	logger   clog.Logger
	meter    metrics.Meter
	verifier Verifier
	now      func() time.Time
}

func defaultOptions() *options {
	return &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		now:    time.Now,
	}
}

// WithLogger 注入日志记录器，自动添加 "auth" 命名空间
func WithLogger(l clog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l.WithNamespace("auth")
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

// WithVerifier 注入认证服务客户端，remote 模式必需
func WithVerifier(v Verifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
