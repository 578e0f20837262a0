package cache

import "github.com/ceyewan/bff/xerrors"

var (
	// ErrMiss 条目不存在或已过期
	ErrMiss = xerrors.New("cache: miss")

	// ErrUnsupportedDriver 不支持的驱动
	ErrUnsupportedDriver = xerrors.New("cache: unsupported driver")

	// ErrConnectorRequired redis 驱动缺少连接器
	ErrConnectorRequired = xerrors.New("cache: redis connector is required, use WithRedisConnector")
)
