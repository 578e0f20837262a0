// Package server 是 BFF 的 HTTP 入口：认证与应用接口透传、聚合接口、健康检查和指标抓取。
//
// 中间件顺序：recovery → request id → otelgin → access log → HTTP 指标 → CORS → 认证 → 附加中间件（限流）。
// 所有错误响应使用 {"error": ..., "kind": ...}，状态码由 xerrors.Kind 决定。
package server

import (
	"context"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/aggregate"
	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// Backend 透传与深度健康检查使用的后端客户端，由 *backend.Client 实现
type Backend interface {
	Call(ctx context.Context, d backend.Descriptor, req backend.Request, p *auth.Principal, opts ...backend.CallOption) backend.Outcome
	Probe(ctx context.Context, d backend.Descriptor) error
}

// Aggregator 执行组合计划，由 *aggregate.Aggregator 实现
type Aggregator interface {
	Execute(ctx context.Context, planID string, inbound *http.Request) (*aggregate.Response, error)
}

// Invalidator 按前缀失效缓存，cache.Cache 与 *cache.Bus 都满足
type Invalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) error
}

// Check 深度健康检查中的依赖探测
type Check func(ctx context.Context) error

// Deps 服务依赖的组件
type Deps struct {
	Backend    Backend
	Backends   map[string]backend.Descriptor
	Aggregator Aggregator
	Extractor  auth.Extractor
	Breakers   breaker.Registry

	// Invalidator 可选，应用接口写操作成功后失效该用户的聚合缓存
	Invalidator Invalidator
	// Checks 可选，/health/deep 额外探测的依赖（缓存、失效总线）
	Checks map[string]Check
}

func (d Deps) validate() error {
	if d.Backend == nil || d.Aggregator == nil || d.Extractor == nil || d.Breakers == nil {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "server: backend, aggregator, extractor and breakers are required")
	}
	return nil
}

// Server BFF HTTP 服务
type Server struct {
	cfg    *Config
	deps   Deps
	logger clog.Logger
	meter  metrics.Meter

	engine *gin.Engine
	srv    *http.Server

	ready    atomic.Bool
	draining atomic.Bool
}

// New 创建服务并注册路由
func New(cfg *Config, deps Deps, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	if err := deps.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: o.logger,
		meter:  o.meter,
	}

	httpMetrics, err := metrics.NewHTTPServerMetrics(o.meter, metrics.DefaultHTTPServerMetricsConfig(cfg.Service))
	if err != nil {
		return nil, xerrors.Wrap(err, "server: create http metrics")
	}
	corsMiddleware, err := newCORS(cfg.CORS)
	if err != nil {
		return nil, err
	}

	engine := gin.New()
	engine.Use(recovery(s.logger), requestID())
	if o.tracing {
		engine.Use(tracingMiddleware(cfg.Service))
	}
	engine.Use(accessLog(s.logger), metrics.GinHTTPMiddleware(httpMetrics), corsMiddleware, auth.GinMiddleware(deps.Extractor, identityPaths...))
	engine.Use(o.middleware...)
	engine.NoRoute(func(c *gin.Context) {
		writeError(c, xerrors.WithKind(ErrRouteNotFound, xerrors.KindNotFound))
	})

	s.engine = engine
	s.routes()
	return s, nil
}

// Handler 返回 HTTP Handler，测试与自定义监听使用
func (s *Server) Handler() http.Handler { return s.engine }

// Run 监听 cfg.Addr 并阻塞到 ctx 结束，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return xerrors.Wrapf(err, "server: listen %s", s.cfg.Addr)
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务，ctx 结束后：readiness 变为 503，等待在途请求完成
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.srv = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()
	s.ready.Store(true)
	s.logger.Info("http server listening", clog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		s.ready.Store(false)
		if xerrors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return xerrors.Wrap(err, "server: serve")
	case <-ctx.Done():
	}

	s.draining.Store(true)
	s.logger.Info("http server draining", clog.Duration("timeout", s.cfg.ShutdownTimeout))

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Wrap(err, "server: shutdown")
	}
	s.logger.Info("http server stopped")
	return nil
}

// Ready 是否可以接收流量
func (s *Server) Ready() bool { return s.ready.Load() && !s.draining.Load() }

// SetReady 手动设置就绪状态，Handler() 单独使用时需要调用
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// writeError 按错误的 Kind 写出统一错误体
func writeError(c *gin.Context, err error) {
	status, body := xerrors.Response(err)
	c.Set(metrics.ContextErrorKind, string(body.Kind))
	c.AbortWithStatusJSON(status, body)
}
