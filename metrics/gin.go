package metrics

import (
	"github.com/gin-gonic/gin"
)

// GinHTTPMiddleware 记录入口请求指标。
//
// route 取 gin 的路由模板，未命中路由时统一为 UnknownRoute，避免原始路径带来高基数。
func GinHTTPMiddleware(httpMetrics *HTTPServerMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpMetrics == nil {
			c.Next()
			return
		}
		end := httpMetrics.Begin(c.Request.Context())
		c.Next()
		end(c.Request.Method, c.FullPath(), c.Writer.Status(), c.GetString(ContextErrorKind))
	}
}
