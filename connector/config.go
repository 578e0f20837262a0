package connector

import (
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// RedisConfig Redis 连接配置
type RedisConfig struct {
	Name string `mapstructure:"name"` // 连接器名称 (默认: "cache")

	// URL 与 Addr 二选一，URL 形如 redis://:password@host:6379/0，优先于 Addr
	URL      string `mapstructure:"url"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`     // 默认 10
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`  // 默认 2s
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`  // 默认 500ms
	WriteTimeout time.Duration `mapstructure:"write_timeout"` // 默认 500ms

	// EnableTracing 为 Redis 命令创建 OTel Span
	EnableTracing bool `mapstructure:"enable_tracing"`
}

func (c *RedisConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "cache"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
	// 读写超时需远小于后端调用超时
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
}

func (c *RedisConfig) validate() error {
	if c.URL == "" && c.Addr == "" {
		return xerrors.Wrap(ErrConfig, "redis url or addr is required")
	}
	if c.DB < 0 {
		return xerrors.Wrap(ErrConfig, "redis db must be >= 0")
	}
	return nil
}

// NATSConfig NATS 连接配置
type NATSConfig struct {
	Name          string        `mapstructure:"name"` // 默认 "bff"
	URL           string        `mapstructure:"url"`  // 如 "nats://127.0.0.1:4222"
	Token         string        `mapstructure:"token"`
	Username      string        `mapstructure:"username"`
	Password      string        `mapstructure:"password"`
	Timeout       time.Duration `mapstructure:"timeout"`        // 默认 5s
	MaxReconnects int           `mapstructure:"max_reconnects"` // 默认 60
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"` // 默认 2s
}

func (c *NATSConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "bff"
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = 60
	}
	if c.ReconnectWait == 0 {
		c.ReconnectWait = 2 * time.Second
	}
}

func (c *NATSConfig) validate() error {
	if c.URL == "" {
		return xerrors.Wrap(ErrConfig, "nats url is required")
	}
	return nil
}
