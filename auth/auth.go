// Package auth 是凭证传播器：从入站请求提取调用方身份（Principal），
// 并按每个后端要求的形式把凭证附加到出站请求上。
//
// 提取方式：
//   - jwt：用 JWTSecret 在本地校验会话令牌（Cookie 或 Authorization: Bearer）
//   - remote：通过 Verifier 调用认证服务 GET /auth/me 确认会话
//
// 附加方式（按后端配置）：
//   - forward：原样转发会话 Cookie 与 Bearer
//   - service_token：签发短期 HS256 服务令牌，aud 为目标后端
//   - none：不附加凭证
//
// 基本使用：
//
//	ex, _ := auth.NewExtractor(&cfg.Auth, auth.WithLogger(logger))
//	p, err := ex.Extract(ctx, r)
//	if err != nil {
//		return err // KindUnauthenticated
//	}
//
//	prop, _ := auth.NewPropagator(&cfg.Auth)
//	_ = prop.Attach(outReq, p, auth.Target{Backend: "app", Mode: auth.CredentialForward})
package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// Extractor 从入站请求提取 Principal，失败时返回 KindUnauthenticated 错误
type Extractor interface {
	Extract(ctx context.Context, r *http.Request) (*Principal, error)
}

// Verifier 认证服务客户端，返回 /auth/me 的状态码与响应体。
// 网络错误与熔断应返回带 Kind 的错误，提取器会原样透传。
type Verifier interface {
	Me(ctx context.Context, cookie, bearer string) (status int, body []byte, err error)
}

// NewExtractor 按 cfg.Mode 创建提取器
func NewExtractor(cfg *Config, opts ...Option) (Extractor, error) {
	if cfg == nil {
		return nil, ErrInvalidConfig
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	counter, err := o.meter.Counter(MetricExtractionsTotal, "Principal extractions by source and result")
	if err != nil {
		return nil, xerrors.Wrap(err, "auth: create extraction counter")
	}

	base := baseExtractor{cfg: cfg, logger: o.logger, counter: counter}
	switch cfg.Mode {
	case ModeJWT:
		return &jwtExtractor{baseExtractor: base, now: o.now}, nil
	default:
		if o.verifier == nil {
			return nil, xerrors.Wrap(ErrInvalidConfig, "remote mode requires WithVerifier")
		}
		return &remoteExtractor{baseExtractor: base, verifier: o.verifier}, nil
	}
}

type baseExtractor struct {
	cfg     *Config
	logger  clog.Logger
	counter metrics.Counter
}

// credentials 读取会话令牌：Authorization: Bearer 优先，其次 Cookie
func (b *baseExtractor) credentials(r *http.Request) (token string, bearer bool) {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, value, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	if c, err := r.Cookie(b.cfg.CookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	return "", false
}

func (b *baseExtractor) record(ctx context.Context, source Source, err error) {
	result := metrics.OutcomeSuccess
	if err != nil {
		result = metrics.OutcomeError
	}
	b.counter.Inc(ctx, metrics.L("source", string(source)), metrics.L(metrics.LabelResult, result))
}

type jwtExtractor struct {
	baseExtractor
	now func() time.Time
}

func (e *jwtExtractor) Extract(ctx context.Context, r *http.Request) (*Principal, error) {
	p, err := e.extract(r)
	e.record(ctx, SourceJWT, err)
	if err != nil {
		e.logger.DebugContext(ctx, "session token rejected", clog.Error(err))
		return nil, err
	}
	return p, nil
}

func (e *jwtExtractor) extract(r *http.Request) (*Principal, error) {
	token, _ := e.credentials(r)
	if token == "" {
		return nil, ErrMissingToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(e.now),
		jwt.WithLeeway(e.cfg.Leeway),
	}
	if e.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(e.cfg.Issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(e.cfg.JWTSecret), nil
	}, parserOpts...)
	if err != nil {
		switch {
		case xerrors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrExpiredToken
		case xerrors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, xerrors.Wrapf(ErrInvalidToken, "%v", err)
		}
	}
	if !parsed.Valid || claims.userID() == "" {
		return nil, ErrInvalidToken
	}

	return &Principal{
		UserID: claims.userID(),
		Scopes: claims.scopes(),
		Source: SourceJWT,
		Token:  token,
		Cookie: r.Header.Get("Cookie"),
	}, nil
}
