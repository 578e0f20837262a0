package backend

import (
	"net/url"
	"strings"
	"time"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/xerrors"
)

// Descriptor 一个后端服务的静态配置，进程启动后不再修改
type Descriptor struct {
	ID      string `mapstructure:"id"`
	BaseURL string `mapstructure:"base_url"`

	// Timeout 单次尝试的超时（默认 5s）
	Timeout time.Duration `mapstructure:"timeout"`
	// Retries 幂等请求的额外重试次数
	Retries int `mapstructure:"retries"`
	// BackoffMin/BackoffMax 重试退避区间（默认 100ms / 1s）
	BackoffMin time.Duration `mapstructure:"backoff_min"`
	BackoffMax time.Duration `mapstructure:"backoff_max"`

	// Breaker 熔断阈值，零值沿用 breaker 的全局默认
	Breaker breaker.Policy `mapstructure:"breaker"`

	// Credentials 凭证形式：forward | service_token | none（默认 forward）
	Credentials auth.CredentialMode `mapstructure:"credentials"`

	// HealthPath 深度健康检查探测路径（默认 /health）
	HealthPath string `mapstructure:"health_path"`
}

// SetDefaults 填充默认值
func (d *Descriptor) SetDefaults() {
	if d.Timeout <= 0 {
		d.Timeout = 5 * time.Second
	}
	if d.Retries < 0 {
		d.Retries = 0
	}
	if d.BackoffMin <= 0 {
		d.BackoffMin = 100 * time.Millisecond
	}
	if d.BackoffMax <= 0 {
		d.BackoffMax = time.Second
	}
	if d.BackoffMax < d.BackoffMin {
		d.BackoffMax = d.BackoffMin
	}
	if d.Credentials == "" {
		d.Credentials = auth.CredentialForward
	}
	if d.HealthPath == "" {
		d.HealthPath = "/health"
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")
}

// Validate 校验描述符
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return xerrors.Wrap(ErrInvalidDescriptor, "id is required")
	}
	u, err := url.Parse(d.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return xerrors.Wrapf(ErrInvalidDescriptor, "backend %s: base_url %q must be an absolute http(s) url", d.ID, d.BaseURL)
	}
	if !d.Credentials.Valid() {
		return xerrors.Wrapf(ErrInvalidDescriptor, "backend %s: unknown credentials mode %q", d.ID, d.Credentials)
	}
	return nil
}

// Target 凭证传播的目标
func (d Descriptor) Target() auth.Target {
	return auth.Target{Backend: d.ID, Mode: d.Credentials}
}

// URL 拼接后端地址与路径
func (d Descriptor) URL(path string) string {
	if path == "" {
		return d.BaseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return d.BaseURL + path
}

// Policies 提取各后端的熔断策略，供 breaker.Config.Backends 使用
func Policies(descriptors map[string]Descriptor) map[string]breaker.Policy {
	out := make(map[string]breaker.Policy, len(descriptors))
	for id, d := range descriptors {
		if d.Breaker.Threshold > 0 || d.Breaker.Cooldown > 0 {
			out[id] = d.Breaker
		}
	}
	return out
}
