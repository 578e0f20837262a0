package cache

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ceyewan/bff/cache/serializer"
	"github.com/ceyewan/bff/xerrors"
)

type redisStore struct {
	client     *redis.Client
	serializer serializer.Serializer
	prefix     string
	scanCount  int64
}

// NewRedis 创建 Redis 驱动。client 由连接器持有，Close 不会关闭它。
func NewRedis(client *redis.Client, prefix, serializerType string, scanCount int64) (Store, error) {
	if client == nil {
		return nil, ErrConnectorRequired
	}
	s, err := serializer.New(serializerType)
	if err != nil {
		return nil, err
	}
	if scanCount <= 0 {
		scanCount = 100
	}
	return &redisStore{
		client:     client,
		serializer: s,
		prefix:     prefix,
		scanCount:  scanCount,
	}, nil
}

func (s *redisStore) key(k string) string {
	return s.prefix + k
}

func (s *redisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if xerrors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}

	var e Entry
	if err := s.serializer.Unmarshal(data, &e); err != nil {
		return nil, xerrors.Wrapf(err, "cache: decode entry %s", key)
	}
	return &e, nil
}

// Set 使用 SET PX 写入，ttl <= 0 时不设置过期
func (s *redisStore) Set(ctx context.Context, key string, e *Entry, ttl time.Duration) error {
	data, err := s.serializer.Marshal(e)
	if err != nil {
		return xerrors.Wrapf(err, "cache: encode entry %s", key)
	}
	if ttl < 0 {
		ttl = 0
	}
	return s.client.Set(ctx, s.key(key), data, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

// DeletePrefix SCAN MATCH <prefix>* 分批删除，不使用 KEYS 阻塞 Redis
func (s *redisStore) DeletePrefix(ctx context.Context, prefix string) error {
	pattern := escapeGlob(s.key(prefix)) + "*"

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, s.scanCount).Result()
		if err != nil {
			return xerrors.Wrapf(err, "cache: scan %s", pattern)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return xerrors.Wrapf(err, "cache: delete %d keys", len(keys))
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error { return nil }

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globReplacer.Replace(s)
}
