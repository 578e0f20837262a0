package server

import "time"

// Config HTTP 服务配置
type Config struct {
	// Addr 监听地址（默认 ":8000"）
	Addr string `mapstructure:"addr"`

	// Service/Version 出现在 /、/health 和 Span 中
	Service string `mapstructure:"service"`
	Version string `mapstructure:"version"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	// ShutdownTimeout 优雅关闭时等待在途请求的上限（默认 15s）
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// DeepHealthTimeout /health/deep 探测的整体超时（默认 5s）
	DeepHealthTimeout time.Duration `mapstructure:"deep_health_timeout"`

	// MetricsPath Prometheus 抓取端点（默认 "/metrics"）
	MetricsPath string `mapstructure:"metrics_path"`

	// MaxBodyBytes 透传请求体上限（默认 1MiB）
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`

	CORS CORSConfig `mapstructure:"cors"`
}

// CORSConfig 跨域配置，凭证模式下不允许通配来源
type CORSConfig struct {
	AllowOrigins []string      `mapstructure:"allow_origins"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

func (c *Config) setDefaults() {
	if c.Addr == "" {
		c.Addr = ":8000"
	}
	if c.Service == "" {
		c.Service = "bff"
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 15 * time.Second
	}
	if c.DeepHealthTimeout <= 0 {
		c.DeepHealthTimeout = 5 * time.Second
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.CORS.MaxAge <= 0 {
		c.CORS.MaxAge = 12 * time.Hour
	}
}
