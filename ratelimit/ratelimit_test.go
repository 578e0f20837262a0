package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/testkit"
	"github.com/ceyewan/bff/xerrors"
)

// ============================================================
// 辅助函数
// ============================================================

var epoch = time.Unix(1000, 0)

// newStandaloneAt 返回时钟固定的单机限流器
func newStandaloneAt(t *testing.T, clock *time.Time) *standaloneLimiter {
	t.Helper()

	l, err := New(&Config{Driver: DriverStandalone}, WithLogger(testkit.NewLogger()), WithMeter(testkit.NewMeter(t)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	sl := l.(*standaloneLimiter)
	sl.now = func() time.Time { return *clock }
	return sl
}

// ============================================================
// 配置
// ============================================================

func TestConfig(t *testing.T) {
	t.Run("默认每分钟 100 次", func(t *testing.T) {
		cfg := &Config{}
		cfg.setDefaults()

		assert.Equal(t, DriverStandalone, cfg.Driver)
		assert.Equal(t, "bff:ratelimit:", cfg.Prefix)
		assert.Equal(t, 100, cfg.Limit().Burst)
		assert.InDelta(t, 100.0/60.0, cfg.Limit().Rate, 1e-9)
	})

	t.Run("无效窗口得到无效规则", func(t *testing.T) {
		assert.False(t, PerWindow(0, time.Minute).valid())
		assert.False(t, PerWindow(10, 0).valid())
	})

	t.Run("空闲超时不能短于窗口", func(t *testing.T) {
		_, err := New(&Config{Window: time.Hour, IdleTimeout: time.Minute})
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})

	t.Run("配置为空", func(t *testing.T) {
		_, err := New(nil)
		assert.ErrorIs(t, err, ErrConfigNil)
	})

	t.Run("分布式模式需要连接器", func(t *testing.T) {
		_, err := New(&Config{Driver: DriverDistributed})
		assert.ErrorIs(t, err, ErrConnectorNil)
		assert.Equal(t, "redis_connector_required", xerrors.GetCode(err))
	})

	t.Run("未知驱动", func(t *testing.T) {
		_, err := New(&Config{Driver: "memcached"})
		assert.Error(t, err)
	})
}

func TestErrRateLimitExceededKind(t *testing.T) {
	status, body := xerrors.Response(ErrRateLimitExceeded)
	assert.Equal(t, 429, status)
	assert.Equal(t, xerrors.KindRateLimited, body.Kind)
	assert.Equal(t, "rate limit exceeded", body.Error)
}

// ============================================================
// 单机模式
// ============================================================

func TestStandaloneAllow(t *testing.T) {
	ctx := context.Background()
	limit := Limit{Rate: 1, Burst: 3}

	t.Run("耗尽后拒绝", func(t *testing.T) {
		clock := epoch
		l := newStandaloneAt(t, &clock)

		for i, want := range []int{2, 1, 0} {
			res, err := l.Allow(ctx, "user:1", limit)
			require.NoError(t, err)
			assert.True(t, res.Allowed, "request %d", i+1)
			assert.Equal(t, want, res.Remaining)
			assert.Equal(t, time.Duration(i+1)*time.Second, res.ResetAfter)
		}

		res, err := l.Allow(ctx, "user:1", limit)
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, 0, res.Remaining)
		assert.Equal(t, time.Second, res.ResetAfter)
		assert.Equal(t, 1, res.ResetSeconds())
	})

	t.Run("额度随时间恢复", func(t *testing.T) {
		clock := epoch
		l := newStandaloneAt(t, &clock)

		for range 3 {
			_, _ = l.Allow(ctx, "user:1", limit)
		}
		res, _ := l.Allow(ctx, "user:1", limit)
		require.False(t, res.Allowed)

		clock = clock.Add(time.Second)
		res, err := l.Allow(ctx, "user:1", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	})

	t.Run("不同的键互不影响", func(t *testing.T) {
		clock := epoch
		l := newStandaloneAt(t, &clock)

		for range 3 {
			_, _ = l.Allow(ctx, "user:1", limit)
		}
		res, err := l.Allow(ctx, "user:2", limit)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 2, res.Remaining)
	})

	t.Run("参数校验", func(t *testing.T) {
		clock := epoch
		l := newStandaloneAt(t, &clock)

		_, err := l.Allow(ctx, "", limit)
		assert.ErrorIs(t, err, ErrKeyEmpty)
		_, err = l.Allow(ctx, "user:1", Limit{})
		assert.ErrorIs(t, err, ErrInvalidLimit)
	})
}

func TestStandaloneSweep(t *testing.T) {
	clock := epoch
	l := newStandaloneAt(t, &clock)

	_, err := l.Allow(context.Background(), "ip:10.0.0.1", Limit{Rate: 1, Burst: 1})
	require.NoError(t, err)

	assert.Equal(t, 0, l.sweep(time.Minute))

	clock = clock.Add(2 * time.Minute)
	assert.Equal(t, 1, l.sweep(time.Minute))

	// 清理后重新开始计数
	res, err := l.Allow(context.Background(), "ip:10.0.0.1", Limit{Rate: 1, Burst: 1})
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestStandaloneCloseIsIdempotent(t *testing.T) {
	clock := epoch
	l := newStandaloneAt(t, &clock)
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
