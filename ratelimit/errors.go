package ratelimit

import "github.com/ceyewan/bff/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("ratelimit: config is nil")

	// ErrConnectorNil 分布式模式缺少 Redis 连接器
	ErrConnectorNil = xerrors.New("ratelimit: connector is nil")

	// ErrKeyEmpty 限流键为空
	ErrKeyEmpty = xerrors.New("ratelimit: key is empty")

	// ErrInvalidLimit 限流规则无效
	ErrInvalidLimit = xerrors.New("ratelimit: invalid limit")

	// ErrRateLimitExceeded 超出限额，Kind 为 RateLimited
	ErrRateLimitExceeded = xerrors.WithKind(xerrors.New("ratelimit: rate limit exceeded"), xerrors.KindRateLimited)
)
