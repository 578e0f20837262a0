package auth

import (
	"context"
	"log/slog"
	"strings"
)

// Source Principal 的来源
type Source string

const (
	SourceJWT       Source = "jwt"
	SourceRemote    Source = "remote"
	SourceAnonymous Source = "anonymous"
)

// Principal 当前请求的调用方身份，每个入站请求提取一次。
//
// Principal 不会被缓存，日志中只输出 UserID、Scopes 和 Source。
type Principal struct {
	UserID string
	Scopes []string
	Source Source

	// Token 入站会话令牌（Cookie 值或 Bearer）
	Token string
	// Cookie 入站原始 Cookie 头，forward 模式下原样转发
	Cookie string
}

// Anonymous 返回未认证调用方，公开计划仍会转发其 Cookie
func Anonymous(cookie string) *Principal {
	return &Principal{Source: SourceAnonymous, Cookie: cookie}
}

// Authenticated 是否为已认证用户
func (p *Principal) Authenticated() bool {
	return p != nil && p.Source != SourceAnonymous && p.UserID != ""
}

// HasScope 判断是否拥有某个 scope
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// LogValue 实现 slog.LogValuer，令牌与 Cookie 不会出现在日志中
func (p *Principal) LogValue() slog.Value {
	if p == nil {
		return slog.StringValue("<nil>")
	}
	return slog.GroupValue(
		slog.String("user_id", p.UserID),
		slog.String("scopes", strings.Join(p.Scopes, ",")),
		slog.String("source", string(p.Source)),
	)
}

type principalKey struct{}

// WithPrincipal 将 Principal 存入 Context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext 从 Context 取出 Principal
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}
