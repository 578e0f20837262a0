// Package ratelimit 按调用方限制入站请求速率，支持单机和分布式两种模式。
//
//   - 单机模式：基于 golang.org/x/time/rate 的内存令牌桶，按 key 懒创建，空闲后清理
//   - 分布式模式：基于 Redis + Lua 的令牌桶，多副本共享额度
//
// 默认规则是每 60 秒 100 次请求，桶容量等于请求数，额度随时间平滑恢复：
//
//	limiter, _ := ratelimit.New(&ratelimit.Config{}, ratelimit.WithLogger(logger))
//	defer limiter.Close()
//
//	r := gin.New()
//	r.Use(ratelimit.GinMiddleware(limiter, cfg.Limit(), ratelimit.WithExempt("/health", "/metrics")))
//
// 限流器自身出错时请求放行，限流永远不会让服务不可用。
package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/xerrors"
)

// Limit 令牌桶规则
type Limit struct {
	Rate  float64 // 每秒生成的令牌数
	Burst int     // 桶容量
}

// PerWindow 把 "window 内最多 n 次" 换算为令牌桶规则
func PerWindow(n int, window time.Duration) Limit {
	if n <= 0 || window <= 0 {
		return Limit{}
	}
	return Limit{Rate: float64(n) / window.Seconds(), Burst: n}
}

func (l Limit) valid() bool { return l.Rate > 0 && l.Burst > 0 }

// Result 一次检查的结果
type Result struct {
	Allowed bool
	// Remaining 本次之后桶内剩余的令牌数
	Remaining int
	// ResetAfter 允许时为桶重新装满的时间，拒绝时为下一个令牌可用的时间
	ResetAfter time.Duration
}

// ResetSeconds ResetAfter 向上取整到秒，用于响应头
func (r Result) ResetSeconds() int {
	return int(math.Ceil(r.ResetAfter.Seconds()))
}

// Limiter 限流器
type Limiter interface {
	// Allow 尝试获取 1 个令牌，不阻塞
	Allow(ctx context.Context, key string, limit Limit) (Result, error)

	Close() error
}

// New 按 cfg.Driver 创建限流器
func New(cfg *Config, opts ...Option) (Limiter, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	switch cfg.Driver {
	case DriverStandalone:
		return newStandalone(cfg, o)
	case DriverDistributed:
		if o.redisConn == nil {
			return nil, xerrors.WithCode(ErrConnectorNil, "redis_connector_required")
		}
		return newDistributed(cfg, o)
	default:
		return nil, xerrors.Wrapf(ErrConfigNil, "unsupported driver %q", cfg.Driver)
	}
}

func logCreated(logger clog.Logger, cfg *Config) {
	logger.Info("rate limiter created",
		clog.String("driver", string(cfg.Driver)),
		clog.Int("requests", cfg.Requests),
		clog.Duration("window", cfg.Window))
}
