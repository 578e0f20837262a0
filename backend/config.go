package backend

// Config 后端客户端的全局配置
type Config struct {
	// UserAgent 出站请求的 User-Agent（默认 "bff/1.0"）
	UserAgent string `mapstructure:"user_agent"`

	// MaxResponseBytes 单个响应体上限（默认 10MiB），超出视为失败
	MaxResponseBytes int64 `mapstructure:"max_response_bytes"`

	// MaxIdleConnsPerHost 每个后端的空闲连接数（默认 32）
	MaxIdleConnsPerHost int `mapstructure:"max_idle_conns_per_host"`
}

func (c *Config) setDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "bff/1.0"
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 << 20
	}
	if c.MaxIdleConnsPerHost <= 0 {
		c.MaxIdleConnsPerHost = 32
	}
}
