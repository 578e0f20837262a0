// bff 是前端与后端服务之间的聚合层进程。
//
// 启动顺序：配置 → 日志 → 追踪/指标 → 连接器 → 缓存/失效总线 → 熔断器 →
// 后端客户端 → 身份提取 → 聚合计划 → 限流 → HTTP 服务。关闭时按相反顺序释放。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/aggregate"
	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/config"
	"github.com/ceyewan/bff/connector"
	"github.com/ceyewan/bff/internal/server"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/plan"
	"github.com/ceyewan/bff/ratelimit"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bff: %v\n", err)
		os.Exit(1)
	}
}

// closer 按注册的逆序在关闭阶段执行
type closer struct {
	name string
	fn   func(ctx context.Context) error
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := config.New(&config.Config{
		Defaults: config.AppDefaults(),
		Aliases:  config.AppEnvAliases(),
	})
	if err != nil {
		return err
	}
	if err := loader.Load(ctx); err != nil {
		return err
	}
	app, err := config.Decode(loader)
	if err != nil {
		return err
	}

	logger, err := clog.New(&app.Log,
		clog.WithNamespace(app.App.Name),
		clog.WithStandardContext(),
		clog.WithTraceContext(),
	)
	if err != nil {
		return err
	}
	if app.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	var closers []closer
	defer func() {
		if err := shutdown(closers, app.ShutdownBudget()); err != nil {
			logger.Error("shutdown incomplete", clog.Error(err))
			return
		}
		logger.Info("bff stopped")
	}()

	traceShutdown, err := trace.Init(&app.Trace, logger)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"trace", traceShutdown})

	meter, err := metrics.New(&app.Metrics, metrics.WithLogger(logger))
	if err != nil {
		return err
	}
	closers = append(closers, closer{"metrics", meter.Shutdown})

	checks := map[string]server.Check{}

	var redisConn connector.RedisConnector
	if app.RedisRequired() || app.Redis.URL != "" || app.Redis.Addr != "" {
		redisConn, err = connector.NewRedis(&app.Redis, connector.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := redisConn.Connect(ctx); err != nil {
			if app.RedisRequired() {
				return err
			}
			logger.Warn("redis unavailable, continuing without it", clog.Error(err))
		}
		closers = append(closers, closer{"redis", func(context.Context) error { return redisConn.Close() }})
		checks["redis"] = redisConn.HealthCheck
	}

	cacheOpts := []cache.Option{cache.WithLogger(logger), cache.WithMeter(meter)}
	if redisConn != nil {
		cacheOpts = append(cacheOpts, cache.WithRedisConnector(redisConn))
	}
	aggCache, err := cache.New(&app.Cache, cacheOpts...)
	if err != nil {
		return err
	}
	closers = append(closers, closer{"cache", func(context.Context) error { return aggCache.Close() }})
	if p, ok := aggCache.(cache.Pinger); ok {
		checks["cache"] = p.Ping
	}

	var invalidator server.Invalidator = aggCache
	if app.Bus.Enabled {
		natsConn, err := connector.NewNATS(&app.NATS, connector.WithLogger(logger))
		if err != nil {
			return err
		}
		if err := natsConn.Connect(ctx); err != nil {
			return err
		}
		closers = append(closers, closer{"nats", func(context.Context) error { return natsConn.Close() }})
		checks["bus"] = natsConn.HealthCheck

		bus, err := cache.NewBus(aggCache, cache.NATSTransport(natsConn.GetClient()), app.Bus.Subject,
			cache.WithLogger(logger), cache.WithMeter(meter))
		if err != nil {
			return err
		}
		if err := bus.Start(); err != nil {
			return err
		}
		closers = append(closers, closer{"bus", func(context.Context) error { return bus.Close() }})
		invalidator = bus
	}

	breakers, err := breaker.New(&app.Breaker, breaker.WithLogger(logger), breaker.WithMeter(meter))
	if err != nil {
		return err
	}

	prop, err := auth.NewPropagator(&app.Auth, auth.WithLogger(logger), auth.WithMeter(meter))
	if err != nil {
		return err
	}
	client, err := backend.New(&app.Backend, breakers, prop, backend.WithLogger(logger), backend.WithMeter(meter))
	if err != nil {
		return err
	}

	descs := app.Descriptors()
	authOpts := []auth.Option{auth.WithLogger(logger), auth.WithMeter(meter)}
	if app.Auth.Mode != auth.ModeJWT {
		authOpts = append(authOpts, auth.WithVerifier(backend.SessionVerifier(client, descs["auth"])))
	}
	extractor, err := auth.NewExtractor(&app.Auth, authOpts...)
	if err != nil {
		return err
	}

	plans, err := plan.NewRegistry(descs, app.PlanSet()...)
	if err != nil {
		return err
	}
	agg, err := aggregate.New(&app.Aggregate, plans, descs, client, extractor,
		aggregate.WithCache(aggCache), aggregate.WithLogger(logger), aggregate.WithMeter(meter))
	if err != nil {
		return err
	}

	srvOpts := []server.Option{
		server.WithLogger(logger),
		server.WithMeter(meter),
		server.WithTracing(app.Trace.Enabled),
	}
	if app.RateLimit.Enabled {
		limiterOpts := []ratelimit.Option{ratelimit.WithLogger(logger), ratelimit.WithMeter(meter)}
		if redisConn != nil {
			limiterOpts = append(limiterOpts, ratelimit.WithRedisConnector(redisConn))
		}
		limiter, err := ratelimit.New(&app.RateLimit, limiterOpts...)
		if err != nil {
			return err
		}
		closers = append(closers, closer{"ratelimit", func(context.Context) error { return limiter.Close() }})

		limit := app.RateLimit.Limit()
		srvOpts = append(srvOpts, server.WithMiddleware(ratelimit.GinMiddleware(limiter, &ratelimit.GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) ratelimit.Limit { return limit },
			Exempt:    app.RateLimit.Exempt,
			Logger:    logger,
		})))
	}

	srv, err := server.New(&app.Server, server.Deps{
		Backend:     client,
		Backends:    descs,
		Aggregator:  agg,
		Extractor:   extractor,
		Breakers:    breakers,
		Invalidator: invalidator,
		Checks:      checks,
	}, srvOpts...)
	if err != nil {
		return err
	}

	watchLogLevel(ctx, loader, logger)

	logger.Info("bff starting",
		clog.String("addr", app.Server.Addr),
		clog.String("env", app.App.Env),
		clog.String("auth_mode", string(app.Auth.Mode)),
		clog.Int("plans", len(plans.IDs())),
	)
	if err := srv.Run(ctx); err != nil {
		return xerrors.Wrap(err, "http server")
	}
	return nil
}

// shutdown 逆序执行 closers，整体受 budget 约束
func shutdown(closers []closer, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), budget)
	defer cancel()
	errs := make([]error, 0, len(closers))
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, xerrors.Wrap(closers[i].fn(ctx), closers[i].name))
	}
	return xerrors.Combine(errs...)
}

// watchLogLevel 配置文件中的 log.level 变更后即时生效
func watchLogLevel(ctx context.Context, loader config.Loader, logger clog.Logger) {
	ch, err := loader.Watch(ctx, "log.level")
	if err != nil {
		logger.Warn("log level watch disabled", clog.Error(err))
		return
	}
	go func() {
		for ev := range ch {
			level, err := clog.ParseLevel(fmt.Sprint(ev.Value))
			if err != nil {
				logger.Warn("ignore invalid log level", clog.Any("value", ev.Value))
				continue
			}
			if err := logger.SetLevel(level); err != nil {
				logger.Warn("set log level failed", clog.Error(err))
				continue
			}
			logger.Info("log level changed", clog.String("level", level.String()))
		}
	}()
}
