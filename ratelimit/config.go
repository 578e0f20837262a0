package ratelimit

import (
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// Driver 限流器实现
type Driver string

const (
	DriverStandalone  Driver = "standalone"
	DriverDistributed Driver = "distributed"
)

// Config 限流配置
type Config struct {
	// Enabled 为 false 时不挂载中间件（由调用方判断）
	Enabled bool `mapstructure:"enabled"`

	// Driver standalone | distributed（默认 standalone）
	Driver Driver `mapstructure:"driver"`

	// Requests 每个窗口允许的请求数（默认 100）
	Requests int `mapstructure:"requests"`
	// Window 窗口长度（默认 60s）
	Window time.Duration `mapstructure:"window"`

	// Prefix 分布式模式下的 Redis Key 前缀（默认 "bff:ratelimit:"）
	Prefix string `mapstructure:"prefix"`

	// CleanupInterval/IdleTimeout 单机模式清理空闲桶（默认 1m / 5m）
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`

	// Exempt 不限流的路径
	Exempt []string `mapstructure:"exempt"`
}

// Limit 配置对应的令牌桶规则
func (c *Config) Limit() Limit {
	return PerWindow(c.Requests, c.Window)
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverStandalone
	}
	if c.Requests <= 0 {
		c.Requests = 100
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.Prefix == "" {
		c.Prefix = "bff:ratelimit:"
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = time.Minute
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 5 * time.Minute
	}
}

func (c *Config) validate() error {
	if c.IdleTimeout < c.Window {
		return xerrors.Wrapf(ErrInvalidLimit, "idle_timeout %s must not be shorter than window %s", c.IdleTimeout, c.Window)
	}
	return nil
}
