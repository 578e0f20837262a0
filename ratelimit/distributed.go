package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// luaScript 基于时间戳的令牌桶（GCRA）
//
// KEYS[1]: 桶的键
// ARGV[1]: 每秒令牌数
// ARGV[2]: 桶容量
// ARGV[3]: 当前时间（秒，带小数）
//
// 返回 {allowed, remaining, reset_ms}
const luaScript = `
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local interval = 1 / rate
local fill_time = capacity * interval

-- 存储的是下一个令牌可用的理论时间
local tat = tonumber(redis.call("GET", KEYS[1]))
if tat == nil then
  tat = now
end
tat = math.max(tat, now)

local new_tat = tat + interval
local allow_at_most = now + fill_time

if new_tat <= allow_at_most then
  redis.call("SET", KEYS[1], new_tat, "EX", math.ceil(fill_time * 2))
  local remaining = math.floor((allow_at_most - new_tat) / interval + 1e-6)
  local reset_ms = math.ceil((new_tat - now) * 1000)
  return {1, remaining, reset_ms}
end

local remaining = math.floor((allow_at_most - tat) / interval + 1e-6)
local reset_ms = math.ceil((new_tat - allow_at_most) * 1000)
return {0, remaining, reset_ms}
`

// distributedLimiter 多副本共享额度的限流器，连接由 Connector 管理
type distributedLimiter struct {
	client   *redis.Client
	prefix   string
	logger   clog.Logger
	requests metrics.Counter
	script   *redis.Script
	now      func() time.Time
}

func newDistributed(cfg *Config, o *options) (Limiter, error) {
	requests, err := o.meter.Counter(MetricRequestsTotal, "Rate limit checks by result")
	if err != nil {
		return nil, err
	}

	l := &distributedLimiter{
		client:   o.redisConn.GetClient(),
		prefix:   cfg.Prefix,
		logger:   o.logger,
		requests: requests,
		script:   redis.NewScript(luaScript),
		now:      time.Now,
	}
	logCreated(o.logger, cfg)
	return l, nil
}

func (l *distributedLimiter) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyEmpty
	}
	if !limit.valid() {
		return Result{}, ErrInvalidLimit
	}

	mode := metrics.L(LabelMode, string(DriverDistributed))
	now := float64(l.now().UnixNano()) / 1e9

	raw, err := l.script.Run(ctx, l.client, []string{l.prefix + key}, limit.Rate, limit.Burst, now).Result()
	if err != nil {
		l.requests.Inc(ctx, mode, metrics.L("result", resultError))
		return Result{}, xerrors.Wrap(err, "execute rate limit script")
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		l.requests.Inc(ctx, mode, metrics.L("result", resultError))
		return Result{}, xerrors.New("ratelimit: invalid script result")
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	resetMs, _ := values[2].(int64)

	res := Result{
		Allowed:    allowed == 1,
		Remaining:  int(max(remaining, 0)),
		ResetAfter: time.Duration(max(resetMs, 0)) * time.Millisecond,
	}

	result := resultAllowed
	if !res.Allowed {
		result = resultDenied
	}
	l.requests.Inc(ctx, mode, metrics.L("result", result))

	l.logger.DebugContext(ctx, "rate limit check",
		clog.String("key", key),
		clog.Bool("allowed", res.Allowed),
		clog.Int("remaining", res.Remaining))
	return res, nil
}

func (l *distributedLimiter) Close() error { return nil }
