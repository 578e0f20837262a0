package ratelimit

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// 响应头
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// GinMiddlewareOptions Gin 中间件配置
type GinMiddlewareOptions struct {
	// KeyFunc 提取限流键，返回空串时放行，默认 DefaultKey
	KeyFunc func(*gin.Context) string
	// LimitFunc 限流规则，返回无效规则时放行
	LimitFunc func(*gin.Context) Limit
	// Exempt 不限流的路径前缀
	Exempt []string
	Logger clog.Logger
}

// DefaultKey 已认证的请求按用户限流，否则按客户端 IP。
// 需要挂在 auth.GinMiddleware 之后。
func DefaultKey(c *gin.Context) string {
	if p, ok := auth.FromContext(c.Request.Context()); ok && p.Authenticated() {
		return "user:" + p.UserID
	}
	return "ip:" + c.ClientIP()
}

// GinMiddleware 创建 Gin 限流中间件。
//
// 每个响应都带 X-RateLimit-* 头；超限时返回 429 和统一的错误体。
// 限流器出错时放行并记录 Warn 日志。
//
//	r.Use(auth.GinMiddleware(extractor))
//	r.Use(ratelimit.GinMiddleware(limiter, &ratelimit.GinMiddlewareOptions{
//		LimitFunc: func(*gin.Context) ratelimit.Limit { return cfg.Limit() },
//		Exempt:    []string{"/health", "/metrics"},
//	}))
func GinMiddleware(limiter Limiter, opts *GinMiddlewareOptions) gin.HandlerFunc {
	if opts == nil {
		opts = &GinMiddlewareOptions{}
	}
	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = DefaultKey
	}
	logger := opts.Logger
	if logger == nil {
		logger = clog.Discard()
	}

	return func(c *gin.Context) {
		if exempt(c.Request.URL.Path, opts.Exempt) || opts.LimitFunc == nil {
			c.Next()
			return
		}

		key := keyFunc(c)
		limit := opts.LimitFunc(c)
		if key == "" || !limit.valid() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		res, err := limiter.Allow(ctx, key, limit)
		if err != nil {
			logger.WarnContext(ctx, "rate limiter failed, allowing request",
				clog.String("key", key),
				clog.Error(err))
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set(HeaderLimit, strconv.Itoa(limit.Burst))
		h.Set(HeaderRemaining, strconv.Itoa(res.Remaining))
		h.Set(HeaderReset, strconv.Itoa(res.ResetSeconds()))

		if !res.Allowed {
			h.Set(HeaderRetryAfter, strconv.Itoa(max(res.ResetSeconds(), 1)))
			logger.InfoContext(ctx, "rate limit exceeded", clog.String("key", key))
			status, body := xerrors.Response(ErrRateLimitExceeded)
			c.Set(metrics.ContextErrorKind, string(body.Kind))
			c.AbortWithStatusJSON(status, body)
			return
		}

		c.Next()
	}
}

func exempt(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}
