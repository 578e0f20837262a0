package breaker

import "github.com/ceyewan/bff/xerrors"

var (
	// ErrConfigNil 配置为空
	ErrConfigNil = xerrors.New("breaker: config is nil")

	// ErrOpen 熔断器打开，或 HalfOpen 状态下已有试探请求在途
	ErrOpen = xerrors.New("breaker: circuit open")
)
