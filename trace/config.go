package trace

// Config 链路追踪配置
//
//	trace:
//	  enabled: true
//	  service_name: "bff"
//	  endpoint: "otel-collector:4317"
//	  sampler: 0.1
type Config struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP gRPC 地址
	Sampler     float64 `mapstructure:"sampler"`  // 采样率 [0, 1]
	Batcher     string  `mapstructure:"batcher"`  // batch|simple
	Insecure    bool    `mapstructure:"insecure"`
}

func (c *Config) setDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "bff"
	}
	if c.Endpoint == "" {
		c.Endpoint = "localhost:4317"
	}
	if c.Batcher == "" {
		c.Batcher = "batch"
	}
}
