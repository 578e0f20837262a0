package auth

import (
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// Mode Principal 提取方式
type Mode string

const (
	// ModeJWT 使用 JWTSecret 在本地校验会话令牌
	ModeJWT Mode = "jwt"
	// ModeRemote 调用认证服务 GET /auth/me 确认会话
	ModeRemote Mode = "remote"
)

// Config Auth 配置
type Config struct {
	Mode Mode `mapstructure:"mode"` // 默认 remote

	// CookieName 会话 Cookie 名称，默认 access_token
	CookieName string `mapstructure:"cookie_name"`

	// JWTSecret 会话令牌签名密钥（HS256），jwt 模式必填
	JWTSecret string `mapstructure:"jwt_secret"`
	// Issuer 非空时校验会话令牌的 iss
	Issuer string `mapstructure:"issuer"`
	// Leeway 校验 exp/nbf 时允许的时钟偏差
	Leeway time.Duration `mapstructure:"leeway"`

	// ServiceTokenSecret 服务令牌签名密钥，默认与 JWTSecret 相同
	ServiceTokenSecret string `mapstructure:"service_token_secret"`
	// ServiceTokenTTL 服务令牌有效期，默认 60s
	ServiceTokenTTL time.Duration `mapstructure:"service_token_ttl"`
	// ServiceIssuer 服务令牌的 iss，默认 bff
	ServiceIssuer string `mapstructure:"service_issuer"`
}

func (c *Config) setDefaults() {
	if c.Mode == "" {
		c.Mode = ModeRemote
	}
	if c.CookieName == "" {
		c.CookieName = "access_token"
	}
	if c.ServiceTokenSecret == "" {
		c.ServiceTokenSecret = c.JWTSecret
	}
	if c.ServiceTokenTTL <= 0 {
		c.ServiceTokenTTL = time.Minute
	}
	if c.ServiceIssuer == "" {
		c.ServiceIssuer = "bff"
	}
}

func (c *Config) validate() error {
	switch c.Mode {
	case ModeJWT:
		if c.JWTSecret == "" {
			return xerrors.Wrap(ErrInvalidConfig, "jwt_secret is required in jwt mode")
		}
	case ModeRemote:
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unsupported mode: %s", c.Mode)
	}
	if c.Leeway < 0 {
		return xerrors.Wrap(ErrInvalidConfig, "leeway must not be negative")
	}
	return nil
}
