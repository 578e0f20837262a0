package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// CredentialMode 后端期望的凭证形式
type CredentialMode string

const (
	CredentialForward      CredentialMode = "forward"
	CredentialServiceToken CredentialMode = "service_token"
	CredentialNone         CredentialMode = "none"
)

// Valid 是否为已知模式，空值按 forward 处理
func (m CredentialMode) Valid() bool {
	switch m {
	case "", CredentialForward, CredentialServiceToken, CredentialNone:
		return true
	}
	return false
}

// Target 出站调用的目标后端
type Target struct {
	Backend string
	Mode    CredentialMode
}

// Propagator 把 Principal 转换为目标后端期望的凭证
type Propagator interface {
	Attach(req *http.Request, p *Principal, t Target) error
}

type propagator struct {
	cfg    *Config
	logger clog.Logger
	now    func() time.Time
	issued metrics.Counter
}

// NewPropagator 创建凭证传播器
func NewPropagator(cfg *Config, opts ...Option) (Propagator, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	issued, err := o.meter.Counter(MetricServiceTokensTotal, "Service tokens minted per backend")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create service token counter")
	}
	return &propagator{cfg: cfg, logger: o.logger, now: o.now, issued: issued}, nil
}

func (p *propagator) Attach(req *http.Request, principal *Principal, t Target) error {
	switch t.Mode {
	case CredentialNone:
		req.Header.Del("Authorization")
		req.Header.Del("Cookie")
		return nil
	case CredentialServiceToken:
		return p.attachServiceToken(req, principal, t.Backend)
	case CredentialForward, "":
		attachForward(req, principal)
		return nil
	default:
		return xerrors.Wrapf(ErrInvalidConfig, "unknown credential mode %q for backend %s", t.Mode, t.Backend)
	}
}

func attachForward(req *http.Request, principal *Principal) {
	if principal == nil {
		return
	}
	if principal.Cookie != "" {
		req.Header.Set("Cookie", principal.Cookie)
	}
	if principal.Token != "" {
		req.Header.Set("Authorization", "Bearer "+principal.Token)
	}
}

func (p *propagator) attachServiceToken(req *http.Request, principal *Principal, backend string) error {
	if p.cfg.ServiceTokenSecret == "" {
		return xerrors.Wrap(ErrInvalidConfig, "service_token_secret is required for service_token backends")
	}
	// 服务令牌替代会话凭证，不再转发 Cookie
	req.Header.Del("Cookie")
	if !principal.Authenticated() {
		req.Header.Del("Authorization")
		return nil
	}

	token, err := p.mint(principal, backend)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	p.issued.Inc(req.Context(), metrics.L(metrics.LabelBackend, backend))
	p.logger.DebugContext(req.Context(), "service token attached",
		clog.String("backend", backend), clog.Any("principal", principal))
	return nil
}

// mint 签发服务令牌：sub=用户，aud=后端，scope 为空格分隔
func (p *propagator) mint(principal *Principal, backend string) (string, error) {
	now := p.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			Issuer:    p.cfg.ServiceIssuer,
			Audience:  jwt.ClaimStrings{backend},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.cfg.ServiceTokenTTL)),
		},
		UserID: principal.UserID,
		Scope:  strings.Join(principal.Scopes, " "),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.cfg.ServiceTokenSecret))
	if err != nil {
		return "", xerrors.Wrap(err, "auth: sign service token")
	}
	return signed, nil
}

// ParseServiceToken 校验服务令牌，供下游服务与测试使用
func ParseServiceToken(token, secret, backend string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithAudience(backend))
	if err != nil {
		return nil, xerrors.Wrapf(ErrInvalidToken, "%v", err)
	}
	return claims, nil
}
