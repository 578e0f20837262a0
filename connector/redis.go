package connector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/xerrors"
)

type redisConnector struct {
	cfg     *RedisConfig
	client  *redis.Client
	logger  clog.Logger
	healthy atomic.Bool
	once    sync.Once
}

// NewRedis 创建 Redis 连接器，此时不会发起网络连接
func NewRedis(cfg *RedisConfig, opts ...Option) (RedisConnector, error) {
	if cfg == nil {
		return nil, xerrors.Wrap(ErrConfig, "redis config is nil")
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	redisOpts, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}

	c := &redisConnector{
		cfg:    cfg,
		client: redis.NewClient(redisOpts),
		logger: o.logger.With(clog.String("connector", "redis"), clog.String("name", cfg.Name)),
	}

	if cfg.EnableTracing {
		if err := redisotel.InstrumentTracing(c.client); err != nil {
			c.logger.Warn("failed to instrument redis tracing", clog.Error(err))
		}
	}
	return c, nil
}

func (c *RedisConfig) clientOptions() (*redis.Options, error) {
	var opts *redis.Options
	if c.URL != "" {
		parsed, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, xerrors.Wrapf(ErrConfig, "parse redis url: %v", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	}

	opts.PoolSize = c.PoolSize
	opts.DialTimeout = c.DialTimeout
	opts.ReadTimeout = c.ReadTimeout
	opts.WriteTimeout = c.WriteTimeout
	opts.MaintNotificationsConfig = &maintnotifications.Config{Mode: maintnotifications.ModeDisabled}
	return opts, nil
}

func (c *redisConnector) Connect(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.healthy.Store(false)
		c.logger.Error("failed to connect to redis", clog.Error(err))
		return xerrors.Wrapf(ErrConnection, "redis connector[%s]: %v", c.cfg.Name, err)
	}

	c.healthy.Store(true)
	c.logger.Info("connected to redis", clog.String("addr", c.client.Options().Addr))
	return nil
}

func (c *redisConnector) Close() error {
	var err error
	c.once.Do(func() {
		c.healthy.Store(false)
		err = c.client.Close()
		c.logger.Info("redis connection closed")
	})
	return err
}

func (c *redisConnector) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		c.healthy.Store(false)
		return xerrors.Wrapf(err, "redis connector[%s]: health check failed", c.cfg.Name)
	}
	c.healthy.Store(true)
	return nil
}

func (c *redisConnector) IsHealthy() bool {
	return c.healthy.Load()
}

func (c *redisConnector) Name() string {
	return c.cfg.Name
}

func (c *redisConnector) GetClient() *redis.Client {
	return c.client
}
