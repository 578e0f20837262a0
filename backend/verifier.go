package backend

import (
	"context"
	"fmt"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/xerrors"
)

// MePath 认证服务返回当前会话用户的路径
const MePath = "/auth/me"

// Probe 深度健康检查：GET HealthPath，不经过熔断、不重试、不附加凭证
func (c *Client) Probe(ctx context.Context, d Descriptor) error {
	d.Credentials = auth.CredentialNone
	out := c.Call(ctx, d, Get(d.HealthPath), nil, WithoutBreaker(), WithoutRetry())
	if out.OK() {
		return nil
	}
	if out.Kind == xerrors.KindUpstreamRejected {
		return xerrors.WithKind(fmt.Errorf("%s health returned %d", d.ID, out.Meta.StatusCode), xerrors.KindUpstreamUnavailable)
	}
	return out.Err()
}

// sessionVerifier 用认证服务的 /auth/me 确认会话
type sessionVerifier struct {
	client *Client
	desc   Descriptor
}

// SessionVerifier 返回 auth.Verifier，调用经过 d 对应的熔断与重试策略
func SessionVerifier(client *Client, d Descriptor) auth.Verifier {
	d.Credentials = auth.CredentialForward
	return &sessionVerifier{client: client, desc: d}
}

func (v *sessionVerifier) Me(ctx context.Context, cookie, bearer string) (int, []byte, error) {
	// 此时还没有身份，只借用 forward 模式把原始凭证带过去
	caller := &auth.Principal{Cookie: cookie, Token: bearer}
	out := v.client.Call(ctx, v.desc, Get(MePath), caller)
	switch {
	case out.OK():
		return out.Meta.StatusCode, out.Payload, nil
	case out.Kind == xerrors.KindUpstreamRejected:
		return out.Meta.StatusCode, out.Payload, nil
	default:
		return 0, nil, out.Err()
	}
}
