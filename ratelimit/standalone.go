package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// bucket 包装 rate.Limiter 并记录最后访问时间
type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	mu       sync.Mutex
}

// standaloneLimiter 进程内限流器，多副本部署时每个副本独立计数
type standaloneLimiter struct {
	logger   clog.Logger
	requests metrics.Counter
	buckets  sync.Map // map[string]*bucket
	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newStandalone(cfg *Config, o *options) (Limiter, error) {
	requests, err := o.meter.Counter(MetricRequestsTotal, "Rate limit checks by result")
	if err != nil {
		return nil, err
	}

	l := &standaloneLimiter{
		logger:   o.logger,
		requests: requests,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go l.cleanup(cfg.CleanupInterval, cfg.IdleTimeout)

	logCreated(o.logger, cfg)
	return l, nil
}

func (l *standaloneLimiter) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	if key == "" {
		return Result{}, ErrKeyEmpty
	}
	if !limit.valid() {
		return Result{}, ErrInvalidLimit
	}

	b := l.bucket(key, limit)
	now := l.now()

	b.mu.Lock()
	allowed := b.limiter.AllowN(now, 1)
	tokens := b.limiter.TokensAt(now)
	b.lastSeen = now
	b.mu.Unlock()

	res := Result{Allowed: allowed, Remaining: int(math.Max(0, math.Floor(tokens)))}
	if allowed {
		res.ResetAfter = secondsToDuration((float64(limit.Burst) - tokens) / limit.Rate)
	} else {
		res.ResetAfter = secondsToDuration((1 - tokens) / limit.Rate)
	}

	result := resultAllowed
	if !allowed {
		result = resultDenied
	}
	l.requests.Inc(ctx, metrics.L(LabelMode, string(DriverStandalone)), metrics.L("result", result))

	l.logger.DebugContext(ctx, "rate limit check",
		clog.String("key", key),
		clog.Bool("allowed", allowed),
		clog.Int("remaining", res.Remaining))
	return res, nil
}

// bucket 规则变化时使用新的桶
func (l *standaloneLimiter) bucket(key string, limit Limit) *bucket {
	cacheKey := key + ":" + strconv.FormatFloat(limit.Rate, 'f', -1, 64) + ":" + strconv.Itoa(limit.Burst)
	if v, ok := l.buckets.Load(cacheKey); ok {
		return v.(*bucket)
	}

	b := &bucket{
		limiter:  rate.NewLimiter(rate.Limit(limit.Rate), limit.Burst),
		lastSeen: l.now(),
	}
	actual, _ := l.buckets.LoadOrStore(cacheKey, b)
	return actual.(*bucket)
}

// cleanup 定期清理空闲的桶
func (l *standaloneLimiter) cleanup(interval, idleTimeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.sweep(idleTimeout)
		case <-l.stopCh:
			return
		}
	}
}

func (l *standaloneLimiter) sweep(idleTimeout time.Duration) int {
	now := l.now()
	count := 0
	l.buckets.Range(func(key, value any) bool {
		b := value.(*bucket)
		b.mu.Lock()
		idle := now.Sub(b.lastSeen)
		b.mu.Unlock()

		if idle > idleTimeout {
			l.buckets.Delete(key)
			count++
		}
		return true
	})
	if count > 0 {
		l.logger.Debug("cleaned up idle buckets", clog.Int("count", count))
	}
	return count
}

func (l *standaloneLimiter) Close() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	return nil
}

func secondsToDuration(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
