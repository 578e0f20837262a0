package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/xerrors"
)

// ============================================================
// 辅助函数
// ============================================================

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, Limit) (Result, error) {
	return Result{}, errors.New("redis down")
}

func (failingLimiter) Close() error { return nil }

// recordingLimiter 记录收到的限流键
type recordingLimiter struct {
	Limiter
	keys []string
}

func (r *recordingLimiter) Allow(ctx context.Context, key string, limit Limit) (Result, error) {
	r.keys = append(r.keys, key)
	return r.Limiter.Allow(ctx, key, limit)
}

func serve(router *gin.Engine, path string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:4321"
	if mutate != nil {
		mutate(req)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) { c.String(http.StatusOK, "ok") }

// ============================================================
// GinMiddleware
// ============================================================

func TestGinMiddleware(t *testing.T) {
	t.Run("正常请求带限流响应头", func(t *testing.T) {
		clock := epoch
		router := setupTestRouter()
		router.Use(GinMiddleware(newStandaloneAt(t, &clock), &GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 5} },
		}))
		router.GET("/bff/app/tasks", okHandler)

		w := serve(router, "/bff/app/tasks", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "5", w.Header().Get(HeaderLimit))
		assert.Equal(t, "4", w.Header().Get(HeaderRemaining))
		assert.Equal(t, "1", w.Header().Get(HeaderReset))
		assert.Empty(t, w.Header().Get(HeaderRetryAfter))
	})

	t.Run("超限返回 429 和统一错误体", func(t *testing.T) {
		clock := epoch
		router := setupTestRouter()
		router.Use(GinMiddleware(newStandaloneAt(t, &clock), &GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 1} },
		}))
		router.GET("/bff/app/tasks", okHandler)

		require.Equal(t, http.StatusOK, serve(router, "/bff/app/tasks", nil).Code)
		w := serve(router, "/bff/app/tasks", nil)

		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, "1", w.Header().Get(HeaderRetryAfter))
		assert.Equal(t, "0", w.Header().Get(HeaderRemaining))

		var body xerrors.Body
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, xerrors.KindRateLimited, body.Kind)
		assert.Equal(t, "rate limit exceeded", body.Error)
	})

	t.Run("豁免路径不计数", func(t *testing.T) {
		clock := epoch
		router := setupTestRouter()
		router.Use(GinMiddleware(newStandaloneAt(t, &clock), &GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 1} },
			Exempt:    []string{"/health", "/metrics"},
		}))
		router.GET("/health/liveness", okHandler)
		router.GET("/metrics", okHandler)

		for range 3 {
			w := serve(router, "/health/liveness", nil)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get(HeaderLimit))
		}
		assert.Equal(t, http.StatusOK, serve(router, "/metrics", nil).Code)
	})

	t.Run("限流器出错时放行", func(t *testing.T) {
		router := setupTestRouter()
		router.Use(GinMiddleware(failingLimiter{}, &GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 1} },
		}))
		router.GET("/bff/app/tasks", okHandler)

		for range 3 {
			assert.Equal(t, http.StatusOK, serve(router, "/bff/app/tasks", nil).Code)
		}
	})

	t.Run("无效规则时放行", func(t *testing.T) {
		clock := epoch
		router := setupTestRouter()
		router.Use(GinMiddleware(newStandaloneAt(t, &clock), &GinMiddlewareOptions{
			LimitFunc: func(*gin.Context) Limit { return Limit{} },
		}))
		router.GET("/bff/app/tasks", okHandler)

		w := serve(router, "/bff/app/tasks", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(HeaderLimit))
	})
}

func TestDefaultKey(t *testing.T) {
	clock := epoch
	rec := &recordingLimiter{Limiter: newStandaloneAt(t, &clock)}

	router := setupTestRouter()
	router.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Test-User"); id != "" {
			p := &auth.Principal{UserID: id, Source: auth.SourceJWT}
			c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), p))
		}
		c.Next()
	})
	router.Use(GinMiddleware(rec, &GinMiddlewareOptions{
		LimitFunc: func(*gin.Context) Limit { return Limit{Rate: 1, Burst: 10} },
	}))
	router.GET("/bff/app/tasks", okHandler)

	serve(router, "/bff/app/tasks", nil)
	serve(router, "/bff/app/tasks", func(r *http.Request) { r.Header.Set("X-Test-User", "u-42") })

	assert.Equal(t, []string{"ip:10.0.0.1", "user:u-42"}, rec.keys)
}
