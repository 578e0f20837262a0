package cache

import (
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// Driver 缓存驱动类型
type Driver string

const (
	DriverMemory Driver = "memory"
	DriverRedis  Driver = "redis"
	DriverNone   Driver = "none"
)

// Config 缓存组件配置
type Config struct {
	// Driver 缓存驱动："memory" | "redis" | "none"（默认 "memory"）
	Driver Driver `mapstructure:"driver"`

	// Prefix Redis Key 全局前缀（默认 "bff:"），内存驱动忽略
	Prefix string `mapstructure:"prefix"`

	// Serializer Redis 条目编码："msgpack" | "json"（默认 "msgpack"）
	Serializer string `mapstructure:"serializer"`

	// Capacity 内存驱动最大条目数（默认 10000）
	Capacity int `mapstructure:"capacity"`

	// DefaultTTL 未单独配置 TTL 的区块使用的 TTL。0 表示不缓存。
	DefaultTTL time.Duration `mapstructure:"default_ttl"`

	// ScanCount 前缀失效时 SCAN 每批的数量（默认 100）
	ScanCount int64 `mapstructure:"scan_count"`
}

func (c *Config) setDefaults() {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.Prefix == "" {
		c.Prefix = "bff:"
	}
	if c.Capacity <= 0 {
		c.Capacity = 10000
	}
	if c.ScanCount <= 0 {
		c.ScanCount = 100
	}
}

func (c *Config) validate() error {
	switch c.Driver {
	case DriverMemory, DriverRedis, DriverNone:
	default:
		return xerrors.Wrapf(ErrUnsupportedDriver, "%q", c.Driver)
	}
	if c.DefaultTTL < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "cache: default_ttl must not be negative")
	}
	return nil
}
