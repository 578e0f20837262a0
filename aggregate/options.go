package aggregate

import (
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// Option 聚合器选项
type Option func(*options)

type options struct {
	logger clog.Logger
	meter  metrics.Meter
	cache  cache.Cache
}

// WithLogger 设置 Logger，内部会追加 namespace "aggregate"
func WithLogger(logger clog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger.WithNamespace("aggregate")
		}
	}
}

// WithMeter 设置指标 Meter
func WithMeter(meter metrics.Meter) Option {
	return func(o *options) {
		if meter != nil {
			o.meter = meter
		}
	}
}

// WithCache 设置区块缓存，不设置时不缓存
func WithCache(c cache.Cache) Option {
	return func(o *options) {
		if c != nil {
			o.cache = c
		}
	}
}

func applyOptions(opts []Option) *options {
	o := &options{
		logger: clog.Discard(),
		meter:  metrics.Discard(),
		cache:  cache.Safe(cache.None(), clog.Discard(), metrics.Discard()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
