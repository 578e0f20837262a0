package cache

import (
	"context"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// genStripes 失效代数的分片数；不同用户落到同一分片只会多放弃几次回填
const genStripes = 256

type safeCache struct {
	store  Store
	logger clog.Logger
	now    func() time.Time
	gens   [genStripes]atomic.Uint64

	requests metrics.Counter
	errors   metrics.Counter
}

// Safe 将 Store 包装为 Cache：驱动错误记录告警并计数后按未命中或空操作处理。
func Safe(store Store, logger clog.Logger, meter metrics.Meter) Cache {
	if logger == nil {
		logger = clog.Discard()
	}
	if meter == nil {
		meter = metrics.Discard()
	}

	c := &safeCache{store: store, logger: logger, now: time.Now}
	c.requests = counterOrDiscard(meter, MetricRequestsTotal, "Cache lookups by result")
	c.errors = counterOrDiscard(meter, MetricErrorsTotal, "Cache driver errors by operation")
	return c
}

func (c *safeCache) Get(ctx context.Context, key string) (*Entry, bool) {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		if !xerrors.Is(err, ErrMiss) {
			c.fail(ctx, "get", key, err)
		}
		c.requests.Inc(ctx, metrics.L(metrics.LabelResult, resultMiss))
		return nil, false
	}

	// 驱动的 TTL 可能有延迟，这里再检查一次
	if e.Expired(c.now()) {
		c.requests.Inc(ctx, metrics.L(metrics.LabelResult, resultMiss))
		return nil, false
	}

	c.requests.Inc(ctx, metrics.L(metrics.LabelResult, resultHit))
	return e.clone(), true
}

// Put 写入条目，ttl <= 0 时不缓存
func (c *safeCache) Put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if key == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "cache: empty key")
	}
	if ttl <= 0 {
		return nil
	}

	stored := e.clone()
	stored.ExpiresAt = c.now().Add(ttl)
	if err := c.store.Set(ctx, key, stored, ttl); err != nil {
		c.fail(ctx, "put", key, err)
	}
	return nil
}

func (c *safeCache) Generation(key string) uint64 {
	return c.stripe(ownerPrefix(key)).Load()
}

func (c *safeCache) Fill(ctx context.Context, key string, gen uint64, e Entry, ttl time.Duration) error {
	if c.Generation(key) != gen {
		return nil
	}
	if err := c.Put(ctx, key, e, ttl); err != nil {
		return err
	}
	// 写入与失效交错时撤销本次写入
	if c.Generation(key) != gen {
		return c.Invalidate(ctx, key)
	}
	return nil
}

func (c *safeCache) Invalidate(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, key); err != nil {
		c.fail(ctx, "invalidate", key, err)
	}
	return nil
}

func (c *safeCache) InvalidatePrefix(ctx context.Context, prefix string) error {
	if prefix == "" {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "cache: empty prefix")
	}
	// 先推进代数再删除，进行中的回填要么被拒绝，要么被这次删除清掉
	if owner := ownerPrefix(prefix); owner == prefix {
		c.stripe(owner).Add(1)
	} else {
		for i := range c.gens {
			c.gens[i].Add(1)
		}
	}
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		c.fail(ctx, "invalidate", prefix, err)
	}
	return nil
}

// Ping 探测驱动连通性，用于深度健康检查
func (c *safeCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

func (c *safeCache) Close() error {
	return c.store.Close()
}

func (c *safeCache) stripe(prefix string) *atomic.Uint64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prefix))
	return &c.gens[h.Sum32()%genStripes]
}

// ownerPrefix 取 key 的用户前缀 u:<user>:，不符合该格式时原样返回
func ownerPrefix(key string) string {
	if !strings.HasPrefix(key, "u:") {
		return key
	}
	i := strings.IndexByte(key[2:], ':')
	if i < 0 {
		return key
	}
	return key[:2+i+1]
}

func (c *safeCache) fail(ctx context.Context, op, key string, err error) {
	c.errors.Inc(ctx, metrics.L(metrics.LabelOperation, op))
	c.logger.WarnContext(ctx, "cache driver error, degrading to miss",
		clog.String("operation", op),
		clog.String("key", key),
		clog.Error(err))
}

// Pinger 由支持连通性探测的 Cache 实现
type Pinger interface {
	Ping(ctx context.Context) error
}

func counterOrDiscard(meter metrics.Meter, name, desc string) metrics.Counter {
	c, err := meter.Counter(name, desc)
	if err != nil {
		c, _ = metrics.Discard().Counter(name, desc)
	}
	return c
}
