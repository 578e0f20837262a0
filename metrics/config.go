package metrics

// Config 指标配置
//
//	metrics:
//	  enabled: true
//	  service_name: "bff"
//	  version: "v1.0.0"
//	  path: "/metrics"
//	  runtime: true
type Config struct {
	// Enabled 为 false 时 New 返回 noop Meter
	Enabled bool `mapstructure:"enabled"`

	// ServiceName 作为 OTel Resource 的 service.name
	ServiceName string `mapstructure:"service_name"`

	// Version 作为 OTel Resource 的 service.version
	Version string `mapstructure:"version"`

	// Path 抓取端点路径，挂载在主 HTTP 服务上
	Path string `mapstructure:"path"`

	// Runtime 是否采集 Go 运行时指标（GC、goroutine、内存）
	Runtime bool `mapstructure:"runtime"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "bff"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}
