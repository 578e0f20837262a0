package breaker

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T, threshold uint32, cooldown time.Duration) Registry {
	t.Helper()
	reg, err := New(&Config{Threshold: threshold, Cooldown: cooldown})
	if err != nil {
		t.Fatalf("New should not return error, got: %v", err)
	}
	return reg
}

func fail(t *testing.T, reg Registry, backend string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		done, err := reg.Allow(backend)
		if err != nil {
			t.Fatalf("call %d should be allowed, got: %v", i+1, err)
		}
		done(false)
	}
}

func TestNewNilConfig(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrConfigNil) {
		t.Fatalf("expected ErrConfigNil, got: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	if _, err := New(cfg); err != nil {
		t.Fatalf("New should not return error, got: %v", err)
	}
	if cfg.Threshold != 5 || cfg.Cooldown != 30*time.Second {
		t.Errorf("unexpected defaults: threshold=%d cooldown=%s", cfg.Threshold, cfg.Cooldown)
	}
}

// TestOpensAfterThreshold 连续失败达到阈值后，下一次调用在本地被拒绝
func TestOpensAfterThreshold(t *testing.T) {
	reg := newTestRegistry(t, 3, time.Minute)

	fail(t, reg, "tasks", 2)
	if got := reg.State("tasks"); got != StateClosed {
		t.Fatalf("expected closed after 2 failures, got %s", got)
	}

	fail(t, reg, "tasks", 1)
	if got := reg.State("tasks"); got != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", got)
	}

	if _, err := reg.Allow("tasks"); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got: %v", err)
	}

	// 其他后端不受影响
	if _, err := reg.Allow("projects"); err != nil {
		t.Fatalf("projects should be allowed, got: %v", err)
	}
}

func TestSuccessResetsConsecutiveFailures(t *testing.T) {
	reg := newTestRegistry(t, 3, time.Minute)

	fail(t, reg, "app", 2)
	done, err := reg.Allow("app")
	if err != nil {
		t.Fatal(err)
	}
	done(true)
	fail(t, reg, "app", 2)

	if got := reg.State("app"); got != StateClosed {
		t.Fatalf("expected closed, got %s", got)
	}
	if got := reg.Status("app").ConsecutiveFailures; got != 2 {
		t.Errorf("expected 2 consecutive failures, got %d", got)
	}
}

// TestHalfOpenSingleTrial 冷却结束后只放行一个试探请求
func TestHalfOpenSingleTrial(t *testing.T) {
	reg := newTestRegistry(t, 1, 50*time.Millisecond)
	fail(t, reg, "auth", 1)

	time.Sleep(80 * time.Millisecond)
	if got := reg.State("auth"); got != StateHalfOpen {
		t.Fatalf("expected half_open after cooldown, got %s", got)
	}

	var (
		admitted atomic.Int32
		wg       sync.WaitGroup
		dones    = make(chan func(bool), 16)
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := reg.Allow("auth")
			if err == nil {
				admitted.Add(1)
				dones <- done
			} else if !errors.Is(err, ErrOpen) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(dones)

	if got := admitted.Load(); got != 1 {
		t.Fatalf("expected exactly one trial, got %d", got)
	}
	for done := range dones {
		done(true)
	}
	if got := reg.State("auth"); got != StateClosed {
		t.Fatalf("expected closed after successful trial, got %s", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	reg := newTestRegistry(t, 2, 50*time.Millisecond)
	fail(t, reg, "app", 2)

	time.Sleep(80 * time.Millisecond)
	before := reg.Status("app").Since

	fail(t, reg, "app", 1)
	status := reg.Status("app")
	if status.State != StateOpen {
		t.Fatalf("expected open after failed trial, got %s", status.State)
	}
	if !status.Since.After(before) {
		t.Errorf("expected transition time to advance")
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t, 2, time.Minute)

	done, err := reg.Allow("app")
	if err != nil {
		t.Fatal(err)
	}
	done(false)
	done(false)

	if got := reg.State("app"); got != StateClosed {
		t.Fatalf("a repeated done must not count twice, got %s", got)
	}
}

func TestBackendOverrides(t *testing.T) {
	reg, err := New(&Config{
		Threshold: 5,
		Cooldown:  time.Minute,
		Backends:  map[string]Policy{"auth": {Threshold: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}

	fail(t, reg, "auth", 1)
	fail(t, reg, "app", 1)

	snap := reg.Snapshot()
	if snap["auth"] != StateOpen {
		t.Errorf("auth should be open, got %s", snap["auth"])
	}
	if snap["app"] != StateClosed {
		t.Errorf("app should be closed, got %s", snap["app"])
	}
	if _, ok := snap["unused"]; ok {
		t.Errorf("unused backend must not appear in snapshot")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateClosed:   "closed",
		StateHalfOpen: "half_open",
		StateOpen:     "open",
		State(9):      "unknown",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
