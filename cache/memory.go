package cache

import (
	"context"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"

	"github.com/ceyewan/bff/xerrors"
)

// defaultTTL 未指定 TTL 时的过期时间（100 年，视为永久）
const defaultTTL = 24 * 365 * 100 * time.Hour

type memoryStore struct {
	cache *otter.Cache[string, *Entry]
}

// NewMemory 创建基于 otter 的进程内缓存
func NewMemory(capacity int) (Store, error) {
	if capacity <= 0 {
		capacity = 10000
	}

	c, err := otter.New(&otter.Options[string, *Entry]{
		MaximumSize: capacity,
		// 写入过期：过期时间从写入开始计算，读取不会续期；具体 TTL 由 Set 覆盖
		ExpiryCalculator: otter.ExpiryWriting[string, *Entry](defaultTTL),
	})
	if err != nil {
		return nil, xerrors.Wrap(err, "cache: build otter cache")
	}
	return &memoryStore{cache: c}, nil
}

func (s *memoryStore) Get(_ context.Context, key string) (*Entry, error) {
	e, ok := s.cache.GetIfPresent(key)
	if !ok {
		return nil, ErrMiss
	}
	return e, nil
}

// Set 存入条目的副本，调用方之后修改 e 不影响已缓存的值
func (s *memoryStore) Set(_ context.Context, key string, e *Entry, ttl time.Duration) error {
	s.cache.Set(key, e.clone())
	if ttl > 0 {
		s.cache.SetExpiresAfter(key, ttl)
	}
	return nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Invalidate(key)
	return nil
}

func (s *memoryStore) DeletePrefix(_ context.Context, prefix string) error {
	var keys []string
	for k := range s.cache.All() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		s.cache.Invalidate(k)
	}
	return nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

func (s *memoryStore) Close() error {
	s.cache.StopAllGoroutines()
	return nil
}
