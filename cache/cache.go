// Package cache 是聚合响应区块的缓存层。
//
// 缓存只是加速层：驱动不可用时退化为永远未命中，绝不让请求失败。
// 条目写入后不可变，刷新时整体替换；读取时会再次检查过期时间，过期条目视为未命中。
//
// 基本使用：
//
//	c, _ := cache.New(&cache.Config{Driver: cache.DriverMemory}, cache.WithLogger(logger))
//	defer c.Close()
//
//	key := cache.Key(principal.UserID, "tasks:{user}", nil)
//	_ = c.Put(ctx, key, cache.Entry{Payload: body, ContentType: "application/json"}, 30*time.Second)
//
//	if e, ok := c.Get(ctx, key); ok {
//		_ = e.Payload
//	}
//
//	// 用户写操作之后失效该用户的全部区块
//	_ = c.InvalidatePrefix(ctx, cache.UserPrefix(principal.UserID))
package cache

import (
	"context"
	"time"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/xerrors"
)

// Cache 聚合器使用的缓存接口。
//
// Get 永远不会返回驱动错误，驱动故障表现为未命中。
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Put(ctx context.Context, key string, e Entry, ttl time.Duration) error
	// Generation 返回 key 所属用户前缀的失效代数，InvalidatePrefix 会推进它
	Generation(key string) uint64
	// Fill 与 Put 相同，但 key 的失效代数已不是 gen 时放弃写入。
	// 调用后端前取 gen，拿到响应后用 Fill 回填，调用期间发生的失效不会被旧数据覆盖。
	Fill(ctx context.Context, key string, gen uint64, e Entry, ttl time.Duration) error
	Invalidate(ctx context.Context, key string) error
	InvalidatePrefix(ctx context.Context, prefix string) error
	Close() error
}

// Store 缓存驱动，返回原始错误；未命中时返回 ErrMiss
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Ping(ctx context.Context) error
	Close() error
}

// Entry 缓存条目
type Entry struct {
	Payload     []byte    `msgpack:"p" json:"payload"`
	ContentType string    `msgpack:"ct" json:"content_type"`
	ExpiresAt   time.Time `msgpack:"exp" json:"expires_at"`
}

// Expired 判断条目在 now 时刻是否已过期，零值 ExpiresAt 表示不过期
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

func (e *Entry) clone() *Entry {
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

// New 根据配置创建缓存实例，返回的 Cache 已包裹 Safe 降级
func New(cfg *Config, opts ...Option) (Cache, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)

	var (
		store Store
		err   error
	)
	switch cfg.Driver {
	case DriverMemory:
		store, err = NewMemory(cfg.Capacity)
	case DriverRedis:
		if o.redisConn == nil {
			return nil, ErrConnectorRequired
		}
		store, err = NewRedis(o.redisConn.GetClient(), cfg.Prefix, cfg.Serializer, cfg.ScanCount)
	case DriverNone:
		store = None()
	}
	if err != nil {
		return nil, err
	}

	o.logger.Info("cache created",
		clog.String("driver", string(cfg.Driver)),
		clog.Duration("default_ttl", cfg.DefaultTTL))
	return Safe(store, o.logger, o.meter), nil
}
