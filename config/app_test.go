package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/plan"
	"github.com/ceyewan/bff/ratelimit"
)

func loadApp(t *testing.T, yaml string) (*AppConfig, error) {
	t.Helper()
	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))
	}

	loader, err := New(&Config{Paths: []string{dir}, Defaults: AppDefaults(), Aliases: AppEnvAliases()})
	require.NoError(t, err)
	require.NoError(t, loader.Load(context.Background()))
	return Decode(loader)
}

func TestDecodeDefaults(t *testing.T) {
	app, err := loadApp(t, "")
	require.NoError(t, err)

	assert.Equal(t, ":8000", app.Server.Addr)
	assert.Equal(t, "bff", app.Server.Service)
	assert.Equal(t, "/metrics", app.Server.MetricsPath)
	assert.Equal(t, []string{"http://localhost:8080", "http://localhost:3000"}, app.Server.CORS.AllowOrigins)
	assert.Equal(t, auth.ModeRemote, app.Auth.Mode)
	assert.Equal(t, 5*time.Minute, app.Cache.DefaultTTL)
	assert.Equal(t, 100, app.RateLimit.Requests)
	assert.Equal(t, time.Minute, app.RateLimit.Window)
	assert.Equal(t, []string{"/health", "/metrics"}, app.RateLimit.Exempt)

	require.Contains(t, app.Backends, plan.BackendAuth)
	authBackend := app.Backends[plan.BackendAuth]
	assert.Equal(t, "auth", authBackend.ID)
	assert.Equal(t, "http://localhost:5001", authBackend.BaseURL)
	assert.Equal(t, 5*time.Second, authBackend.Timeout)
	assert.Equal(t, 2, authBackend.Retries)
	assert.Equal(t, "http://localhost:5000", app.Backends[plan.BackendApp].BaseURL)

	assert.False(t, app.RedisRequired())
	assert.Len(t, app.PlanSet(), 5)
}

func TestDecodeEnvironment(t *testing.T) {
	t.Setenv("AUTH_SERVICE_URL", "http://auth.svc:5001")
	t.Setenv("APP_SERVICE_URL", "http://app.svc")
	t.Setenv("CORS_ORIGINS", "https://app.example.com,https://www.example.com")
	t.Setenv("JWT_SECRET", "env-secret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("REDIS_URL", "redis://redis:6379/0")
	t.Setenv("BFF_CACHE_DRIVER", "redis")
	t.Setenv("BFF_RATELIMIT_REQUESTS", "10")

	app, err := loadApp(t, "")
	require.NoError(t, err)

	assert.Equal(t, "http://auth.svc:5001", app.Backends[plan.BackendAuth].BaseURL)
	assert.Equal(t, "http://app.svc", app.Backends[plan.BackendApp].BaseURL)
	assert.Equal(t, []string{"https://app.example.com", "https://www.example.com"}, app.Server.CORS.AllowOrigins)
	assert.Equal(t, "env-secret", app.Auth.JWTSecret)
	assert.Equal(t, "debug", app.Log.Level)
	assert.Equal(t, "redis://redis:6379/0", app.Redis.URL)
	assert.Equal(t, cache.DriverRedis, app.Cache.Driver)
	assert.Equal(t, 10, app.RateLimit.Requests)
	assert.True(t, app.RedisRequired())
}

func TestDecodePlanOverrides(t *testing.T) {
	app, err := loadApp(t, `
cache:
  default_ttl: 30s
backends:
  app:
    timeout: 2s
    breaker:
      threshold: 3
plans:
  dashboard:
    timeout: 4s
    ttl:
      goals: 0s
      tasks: 1m
`)
	require.NoError(t, err)

	var dashboard plan.Plan
	for _, p := range app.PlanSet() {
		if p.ID == "dashboard" {
			dashboard = p
		}
	}
	assert.Equal(t, 4*time.Second, dashboard.Timeout)
	ttl := map[string]time.Duration{}
	for _, s := range dashboard.Specs {
		ttl[s.ID] = s.CacheTTL
	}
	assert.Equal(t, map[string]time.Duration{"tasks": time.Minute, "projects": 30 * time.Second, "goals": 0}, ttl)

	// 配置文件只覆盖了部分字段，其余沿用默认值
	assert.Equal(t, "http://localhost:5000", app.Backends[plan.BackendApp].BaseURL)
	assert.Equal(t, uint32(3), app.Breaker.Backends[plan.BackendApp].Threshold)
}

func TestAppValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "后端超时不小于计划超时",
			yaml: "plans:\n  dashboard:\n    timeout: 3s\n",
		},
		{
			name: "未知计划",
			yaml: "plans:\n  unknown:\n    timeout: 3s\n",
		},
		{
			name: "后端地址无效",
			yaml: "backends:\n  app:\n    base_url: not-a-url\n",
		},
		{
			name: "jwt 模式缺少密钥",
			yaml: "auth:\n  mode: jwt\n",
		},
		{
			name: "启用广播但没有 NATS",
			yaml: "bus:\n  enabled: true\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadApp(t, tt.yaml)
			assert.Error(t, err)
		})
	}
}

func TestRedisRequiredForDistributedRateLimit(t *testing.T) {
	app := &AppConfig{RateLimit: ratelimit.Config{Enabled: true, Driver: ratelimit.DriverDistributed}}
	assert.True(t, app.RedisRequired())
}
