package aggregate

import "time"

// Config 聚合器配置
type Config struct {
	// CacheWriteTimeout 区块写缓存的超时（默认 1s），写入不受聚合超时影响
	CacheWriteTimeout time.Duration `mapstructure:"cache_write_timeout"`
}

func (c *Config) setDefaults() {
	if c.CacheWriteTimeout <= 0 {
		c.CacheWriteTimeout = time.Second
	}
}
