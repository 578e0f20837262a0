package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ceyewan/bff/clog"
)

type extractErrKey struct{}

// GinMiddleware 尽力提取 Principal 并放入请求 Context。
//
// paths 非空时只对这些路径前缀提取身份，健康检查、指标等路由不会触发 remote 模式的 /auth/me 调用。
// CORS 预检请求与没有携带任何凭证的请求直接放行；提取失败也放行并记下错误，由具体路由决定是否要求认证。
// 成功时 user_id 会进入 clog 的标准上下文字段。
//
//	r.Use(auth.GinMiddleware(extractor, "/bff/app/", "/bff/aggregate/"))
func GinMiddleware(ex Extractor, paths ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		r := c.Request
		if r.Method == http.MethodOptions || !matchPath(r.URL.Path, paths) {
			c.Next()
			return
		}
		if r.Header.Get("Authorization") == "" && r.Header.Get("Cookie") == "" {
			c.Next()
			return
		}

		var ctx context.Context
		p, err := ex.Extract(r.Context(), r)
		if err != nil {
			ctx = context.WithValue(r.Context(), extractErrKey{}, err)
		} else {
			ctx = clog.WithUserID(WithPrincipal(r.Context(), p), p.UserID)
		}
		c.Request = r.WithContext(ctx)
		c.Next()
	}
}

func matchPath(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Resolve 返回请求的 Principal：优先复用中间件的结果，避免 remote 模式重复调用认证服务
func Resolve(ctx context.Context, ex Extractor, r *http.Request) (*Principal, error) {
	if p, ok := FromContext(ctx); ok {
		return p, nil
	}
	if err, ok := ctx.Value(extractErrKey{}).(error); ok {
		return nil, err
	}
	return ex.Extract(ctx, r)
}
