package breaker

import (
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// Config 熔断器配置
type Config struct {
	// Threshold 连续失败多少次后熔断（默认：5）
	Threshold uint32 `mapstructure:"threshold"`

	// Cooldown Open 状态持续时间，之后进入 HalfOpen（默认：30s）
	Cooldown time.Duration `mapstructure:"cooldown"`

	// Backends 按后端 ID 覆盖默认策略
	Backends map[string]Policy `mapstructure:"backends"`
}

// Policy 单个后端的熔断策略，零值字段沿用 Config 的默认值
type Policy struct {
	Threshold uint32        `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

func (c *Config) setDefaults() {
	if c.Threshold == 0 {
		c.Threshold = 5
	}
	if c.Cooldown == 0 {
		c.Cooldown = 30 * time.Second
	}
}

func (c *Config) validate() error {
	if c.Cooldown < 0 {
		return xerrors.Wrap(xerrors.ErrInvalidInput, "breaker: cooldown must be positive")
	}
	for id, p := range c.Backends {
		if p.Cooldown < 0 {
			return xerrors.Wrapf(xerrors.ErrInvalidInput, "breaker: cooldown of backend %q must be positive", id)
		}
	}
	return nil
}

// policy 返回 backend 生效的策略
func (c *Config) policy(backend string) Policy {
	p := Policy{Threshold: c.Threshold, Cooldown: c.Cooldown}
	if o, ok := c.Backends[backend]; ok {
		if o.Threshold > 0 {
			p.Threshold = o.Threshold
		}
		if o.Cooldown > 0 {
			p.Cooldown = o.Cooldown
		}
	}
	return p
}
