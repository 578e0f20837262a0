package server

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/ratelimit"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

// HeaderRequestID 请求 ID 头，缺省时生成 UUID v4
const HeaderRequestID = "X-Request-ID"

func recovery(logger clog.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, rec any) {
		logger.ErrorContext(c.Request.Context(), "panic recovered",
			clog.String("panic", fmt.Sprint(rec)),
			clog.String("method", c.Request.Method),
			clog.String("path", c.Request.URL.Path))
		writeError(c, xerrors.WithKind(ErrPanic, xerrors.KindInternalCompositionError))
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Request = c.Request.WithContext(clog.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func tracingMiddleware(service string) gin.HandlerFunc {
	return trace.GinMiddleware(service)
}

// accessLog 请求结束后记录一条访问日志，request_id 与 user_id 由 clog 从 Context 提取
func accessLog(logger clog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := []clog.Field{
			clog.String("method", c.Request.Method),
			clog.String("route", route),
			clog.Int("status", status),
			clog.Duration("latency", time.Since(start)),
			clog.String("client_ip", c.ClientIP()),
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(ctx, "http request", fields...)
		case status >= http.StatusBadRequest:
			logger.WarnContext(ctx, "http request", fields...)
		default:
			logger.InfoContext(ctx, "http request", fields...)
		}
	}
}

func newCORS(cfg CORSConfig) (gin.HandlerFunc, error) {
	for _, origin := range cfg.AllowOrigins {
		if origin == "*" {
			return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "server: wildcard origin is not allowed with credentials")
		}
	}
	c := cors.Config{
		AllowOrigins:     cfg.AllowOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Requested-With", HeaderRequestID},
		ExposeHeaders:    []string{HeaderRequestID, ratelimit.HeaderLimit, ratelimit.HeaderRemaining, ratelimit.HeaderReset, ratelimit.HeaderRetryAfter},
		AllowCredentials: true,
		MaxAge:           cfg.MaxAge,
	}
	if len(c.AllowOrigins) == 0 {
		c.AllowOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	if err := c.Validate(); err != nil {
		return nil, xerrors.Wrap(err, "server: invalid cors config")
	}
	return cors.New(c), nil
}
