// Package testkit 提供各组件测试共用的依赖：日志、指标、miniredis 与 NATS 容器。
package testkit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
)

// Kit 包含通用的测试依赖
type Kit struct {
	Ctx    context.Context
	Logger clog.Logger
	Meter  metrics.Meter
}

// NewKit 返回一个包含默认依赖的测试工具包
func NewKit(t *testing.T) *Kit {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &Kit{
		Ctx:    ctx,
		Logger: NewLogger(),
		Meter:  NewMeter(t),
	}
}

// NewLogger 返回一个用于测试的 logger。
// 默认丢弃输出，设置 BFF_TEST_LOG=debug 时以 console 格式输出到 stderr。
func NewLogger() clog.Logger {
	level := os.Getenv("BFF_TEST_LOG")
	if level == "" {
		return clog.Discard()
	}
	logger, err := clog.New(&clog.Config{Level: level, Format: "console", Output: "stderr"})
	if err != nil {
		return clog.Discard()
	}
	return logger
}

// NewMeter 返回一个真实的 Prometheus Meter，测试可以通过 Handler 抓取指标
func NewMeter(t *testing.T) metrics.Meter {
	meter, err := metrics.New(&metrics.Config{Enabled: true, ServiceName: "bff-test"})
	if err != nil {
		t.Logf("metrics disabled: %v", err)
		return metrics.Discard()
	}
	t.Cleanup(func() {
		_ = meter.Shutdown(context.Background())
	})
	return meter
}

// NewContext 返回一个带有超时的测试上下文
func NewContext(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// NewID 返回一个唯一的测试 ID (UUID v4 前 8 位)
// 用于生成唯一的 Key、Subject，避免测试间数据冲突
func NewID() string {
	return uuid.New().String()[0:8]
}

// RequireIntegration 未设置 BFF_INTEGRATION 时跳过依赖 Docker 的测试
func RequireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("BFF_INTEGRATION") == "" {
		t.Skip("set BFF_INTEGRATION=1 to run container-backed tests")
	}
}
