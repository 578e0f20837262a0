package server

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/plan"
	"github.com/ceyewan/bff/xerrors"
)

func (s *Server) authPassthrough(path string) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, ok := s.forward(c, plan.BackendAuth, path)
		if ok {
			relay(c, out)
		}
	}
}

// appPassthrough /bff/app/<path> → 应用服务 /app/<path>。
// 写操作成功后失效该用户的聚合缓存，本副本与其他副本都会生效。
func (s *Server) appPassthrough(c *gin.Context) {
	out, ok := s.forward(c, plan.BackendApp, "/app"+c.Param("path"))
	if !ok {
		return
	}
	if out.OK() && mutates(c.Request.Method) {
		s.invalidateUser(c.Request.Context())
	}
	relay(c, out)
}

// forward 把入站请求原样转发给后端；返回 false 时已写出错误响应
func (s *Server) forward(c *gin.Context, backendID, path string) (backend.Outcome, bool) {
	d, ok := s.deps.Backends[backendID]
	if !ok {
		writeError(c, xerrors.WithKind(xerrors.Wrapf(ErrBackendNotConfigured, "backend %q", backendID), xerrors.KindUpstreamUnavailable))
		return backend.Outcome{}, false
	}

	var body []byte
	if c.Request.Body != nil {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return backend.Outcome{}, false
		}
	}

	req := backend.Request{
		Method: c.Request.Method,
		Path:   path,
		Query:  c.Request.URL.Query(),
		Header: backend.ForwardHeaders(c.Request.Header),
		Body:   body,
	}
	p, _ := auth.FromContext(c.Request.Context())
	return s.deps.Backend.Call(c.Request.Context(), d, req, p), true
}

// relay 写出后端响应：状态码、响应体、Content-Type、全部 Set-Cookie 与 Location 原样透传。
// 没有拿到后端响应的失败（熔断、超时、5xx）按 Kind 映射。
func relay(c *gin.Context, out backend.Outcome) {
	if out.Status != backend.StatusSuccess && out.Kind != xerrors.KindUpstreamRejected {
		writeError(c, out.Err())
		return
	}

	h := c.Writer.Header()
	for _, v := range out.Meta.Header.Values("Set-Cookie") {
		h.Add("Set-Cookie", v)
	}
	if loc := out.Meta.Header.Get("Location"); loc != "" {
		h.Set("Location", loc)
	}

	status := out.Meta.StatusCode
	if status == http.StatusNoContent || len(out.Payload) == 0 {
		c.Status(status)
		c.Writer.WriteHeaderNow()
		return
	}
	contentType := out.Meta.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(status, contentType, out.Payload)
}

func (s *Server) invalidateUser(ctx context.Context) {
	p, ok := auth.FromContext(ctx)
	if !ok || !p.Authenticated() || s.deps.Invalidator == nil {
		return
	}
	if err := s.deps.Invalidator.InvalidatePrefix(context.WithoutCancel(ctx), cache.UserPrefix(p.UserID)); err != nil {
		s.logger.WarnContext(ctx, "invalidate user cache failed", clog.Error(err))
	}
}

func mutates(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	}
	return true
}
