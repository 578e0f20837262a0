package config

import (
	"time"

	"github.com/ceyewan/bff/aggregate"
	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/connector"
	"github.com/ceyewan/bff/internal/server"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/plan"
	"github.com/ceyewan/bff/ratelimit"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

// AppConfig BFF 进程的完整配置
type AppConfig struct {
	App       AppInfo                       `mapstructure:"app"`
	Server    server.Config                 `mapstructure:"server"`
	Log       clog.Config                   `mapstructure:"log"`
	Metrics   metrics.Config                `mapstructure:"metrics"`
	Trace     trace.Config                  `mapstructure:"trace"`
	CORS      server.CORSConfig             `mapstructure:"cors"`
	Auth      auth.Config                   `mapstructure:"auth"`
	Backend   backend.Config                `mapstructure:"backend"`
	Backends  map[string]backend.Descriptor `mapstructure:"backends"`
	Breaker   breaker.Config                `mapstructure:"breaker"`
	Cache     cache.Config                  `mapstructure:"cache"`
	Redis     connector.RedisConfig         `mapstructure:"redis"`
	NATS      connector.NATSConfig          `mapstructure:"nats"`
	Bus       BusConfig                     `mapstructure:"bus"`
	RateLimit ratelimit.Config              `mapstructure:"ratelimit"`
	Aggregate aggregate.Config              `mapstructure:"aggregate"`
	Plans     map[string]plan.Override      `mapstructure:"plans"`
}

// AppInfo 服务标识
type AppInfo struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	Version string `mapstructure:"version"`
}

// BusConfig 跨副本缓存失效广播，需要 nats.url
type BusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Subject string `mapstructure:"subject"`
}

// AppDefaults 所有配置项的默认值。注册过默认值的 key 才能被 BFF_ 前缀的环境变量覆盖。
func AppDefaults() map[string]any {
	return map[string]any{
		"app.name":    "bff",
		"app.env":     "development",
		"app.version": "1.0.0",

		"server.addr":                ":8000",
		"server.read_header_timeout": "5s",
		"server.shutdown_timeout":    "15s",
		"server.deep_health_timeout": "5s",
		"server.max_body_bytes":      1 << 20,

		"log.level":  "info",
		"log.format": "json",
		"log.output": "stdout",

		"metrics.enabled": true,
		"metrics.path":    "/metrics",
		"metrics.runtime": true,

		"trace.enabled":  false,
		"trace.endpoint": "localhost:4317",
		"trace.sampler":  1.0,
		"trace.batcher":  "batch",
		"trace.insecure": true,

		"cors.allow_origins": []string{"http://localhost:8080", "http://localhost:3000"},
		"cors.max_age":       "12h",

		"auth.mode":        string(auth.ModeRemote),
		"auth.cookie_name": "access_token",
		"auth.jwt_secret":  "",

		"backend.user_agent": "bff/1.0",

		"backends.auth.base_url":    "http://localhost:5001",
		"backends.auth.timeout":     "5s",
		"backends.auth.retries":     2,
		"backends.auth.credentials": string(auth.CredentialForward),
		"backends.app.base_url":     "http://localhost:5000",
		"backends.app.timeout":      "5s",
		"backends.app.retries":      2,
		"backends.app.credentials":  string(auth.CredentialForward),

		"breaker.threshold": 5,
		"breaker.cooldown":  "30s",

		"cache.driver":      string(cache.DriverMemory),
		"cache.default_ttl": "5m",
		"cache.prefix":      "bff:",
		"cache.serializer":  "msgpack",

		"redis.url":  "",
		"redis.addr": "localhost:6379",

		"nats.url": "",

		"bus.enabled": false,
		"bus.subject": cache.DefaultSubject,

		"ratelimit.enabled":  true,
		"ratelimit.driver":   string(ratelimit.DriverStandalone),
		"ratelimit.requests": 100,
		"ratelimit.window":   "60s",
		"ratelimit.exempt":   []string{"/health", "/metrics"},

		"aggregate.cache_write_timeout": "1s",
	}
}

// AppEnvAliases 兼容的环境变量名
func AppEnvAliases() map[string][]string {
	return map[string][]string{
		"backends.auth.base_url": {"AUTH_SERVICE_URL"},
		"backends.app.base_url":  {"APP_SERVICE_URL"},
		"redis.url":              {"REDIS_URL"},
		"cors.allow_origins":     {"CORS_ORIGINS"},
		"auth.jwt_secret":        {"JWT_SECRET"},
		"log.level":              {"LOG_LEVEL"},
	}
}

// Decode 把已加载的配置解析为 AppConfig 并校验
func Decode(l Loader) (*AppConfig, error) {
	var app AppConfig
	if err := l.Unmarshal(&app); err != nil {
		return nil, xerrors.Wrap(err, "decode app config")
	}
	app.normalize()
	if err := app.Validate(); err != nil {
		return nil, err
	}
	return &app, nil
}

func (a *AppConfig) normalize() {
	a.Server.CORS = a.CORS
	if a.Server.Service == "" {
		a.Server.Service = a.App.Name
	}
	if a.Server.Version == "" {
		a.Server.Version = a.App.Version
	}
	if a.Metrics.Path != "" {
		a.Server.MetricsPath = a.Metrics.Path
	}
	if a.Metrics.ServiceName == "" {
		a.Metrics.ServiceName = a.App.Name
	}
	if a.Metrics.Version == "" {
		a.Metrics.Version = a.App.Version
	}
	if a.Trace.ServiceName == "" {
		a.Trace.ServiceName = a.App.Name
	}
	if a.Auth.Mode == "" {
		a.Auth.Mode = auth.ModeRemote
	}
	for id, d := range a.Backends {
		if d.ID == "" {
			d.ID = id
		}
		d.SetDefaults()
		a.Backends[id] = d
	}
	a.Breaker.Backends = backend.Policies(a.Backends)
}

// Descriptors 按 ID 索引的后端描述符
func (a *AppConfig) Descriptors() map[string]backend.Descriptor {
	out := make(map[string]backend.Descriptor, len(a.Backends))
	for id, d := range a.Backends {
		out[id] = d
	}
	return out
}

// PlanSet 应用 cache.default_ttl 与 plans 覆盖后的内置计划
func (a *AppConfig) PlanSet() []plan.Plan {
	return plan.Builtin(a.Cache.DefaultTTL, a.Plans)
}

// Validate 校验跨组件的约束：后端地址、计划引用的后端、单次调用超时小于计划超时
func (a *AppConfig) Validate() error {
	var errs xerrors.Collector
	for _, id := range []string{plan.BackendAuth, plan.BackendApp} {
		if _, ok := a.Backends[id]; !ok {
			errs.Collect(xerrors.Wrapf(ErrValidationFailed, "backends.%s is required", id))
		}
	}
	for id, d := range a.Backends {
		if d.ID != id {
			errs.Collect(xerrors.Wrapf(ErrValidationFailed, "backends.%s: id %q does not match its key", id, d.ID))
		}
		errs.Collect(d.Validate())
	}

	known := make(map[string]bool)
	for _, p := range plan.Builtin(0, nil) {
		known[p.ID] = true
	}
	for id, o := range a.Plans {
		if !known[id] {
			errs.Collect(xerrors.Wrapf(ErrValidationFailed, "plans.%s: unknown plan", id))
		}
		for section, ttl := range o.TTL {
			if ttl < 0 {
				errs.Collect(xerrors.Wrapf(ErrValidationFailed, "plans.%s.ttl.%s must not be negative", id, section))
			}
		}
	}
	if err := errs.Err(); err != nil {
		return err
	}

	if _, err := plan.NewRegistry(a.Descriptors(), a.PlanSet()...); err != nil {
		return xerrors.Wrap(err, "validate plans")
	}
	if a.Bus.Enabled && a.NATS.URL == "" {
		return xerrors.Wrap(ErrValidationFailed, "bus.enabled requires nats.url")
	}
	if a.Auth.Mode == auth.ModeJWT && a.Auth.JWTSecret == "" {
		return xerrors.Wrap(ErrValidationFailed, "auth.jwt_secret is required in jwt mode")
	}
	return nil
}

// RedisRequired 缓存或限流是否需要 Redis
func (a *AppConfig) RedisRequired() bool {
	return a.Cache.Driver == cache.DriverRedis || (a.RateLimit.Enabled && a.RateLimit.Driver == ratelimit.DriverDistributed)
}

// ShutdownBudget 关闭流程的总预算
func (a *AppConfig) ShutdownBudget() time.Duration {
	if a.Server.ShutdownTimeout <= 0 {
		return 20 * time.Second
	}
	return a.Server.ShutdownTimeout + 5*time.Second
}
