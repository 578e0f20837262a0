package server

import "github.com/ceyewan/bff/xerrors"

var (
	// ErrRouteNotFound 未注册的路由
	ErrRouteNotFound = xerrors.New("server: route not found")

	// ErrPanic 处理请求时发生 panic
	ErrPanic = xerrors.New("server: panic while handling request")

	// ErrBackendNotConfigured 透传目标后端未配置
	ErrBackendNotConfigured = xerrors.New("server: backend not configured")
)
