package breaker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/xerrors"
)

// entry 一个后端的熔断器，since 记录最近一次状态变更的时间 (UnixNano)
type entry struct {
	cb    *gobreaker.TwoStepCircuitBreaker[struct{}]
	since atomic.Int64
}

type registry struct {
	cfg    *Config
	logger clog.Logger

	stateGauge  metrics.Gauge
	rejected    metrics.Counter
	transitions metrics.Counter

	breakers sync.Map // map[string]*entry
}

func newRegistry(cfg *Config, o *options) (*registry, error) {
	r := &registry{cfg: cfg, logger: o.logger}

	var err error
	if r.stateGauge, err = o.meter.Gauge(MetricState, "Circuit breaker state per backend (0 closed, 1 half_open, 2 open)"); err != nil {
		return nil, xerrors.Wrap(err, "breaker: create state gauge")
	}
	if r.rejected, err = o.meter.Counter(MetricRejectedTotal, "Calls rejected locally by an open circuit"); err != nil {
		return nil, xerrors.Wrap(err, "breaker: create rejected counter")
	}
	if r.transitions, err = o.meter.Counter(MetricTransitionsTotal, "Circuit breaker state transitions"); err != nil {
		return nil, xerrors.Wrap(err, "breaker: create transitions counter")
	}
	return r, nil
}

func (r *registry) Allow(backend string) (func(bool), error) {
	e := r.getOrCreate(backend)

	done, err := e.cb.Allow()
	if err != nil {
		// ErrOpenState 与 ErrTooManyRequests 都按 Open 处理
		r.rejected.Inc(context.Background(), metrics.L(metrics.LabelBackend, backend))
		return nil, xerrors.Wrapf(ErrOpen, "backend %s: %v", backend, err)
	}

	var once sync.Once
	return func(success bool) {
		once.Do(func() { done(success) })
	}, nil
}

func (r *registry) State(backend string) State {
	v, ok := r.breakers.Load(backend)
	if !ok {
		return StateClosed
	}
	return fromGobreaker(v.(*entry).cb.State())
}

func (r *registry) Status(backend string) Status {
	v, ok := r.breakers.Load(backend)
	if !ok {
		return Status{State: StateClosed}
	}
	e := v.(*entry)
	return Status{
		State:               fromGobreaker(e.cb.State()),
		ConsecutiveFailures: e.cb.Counts().ConsecutiveFailures,
		Since:               time.Unix(0, e.since.Load()),
	}
}

func (r *registry) Snapshot() map[string]State {
	out := make(map[string]State)
	r.breakers.Range(func(k, v any) bool {
		out[k.(string)] = fromGobreaker(v.(*entry).cb.State())
		return true
	})
	return out
}

func (r *registry) getOrCreate(backend string) *entry {
	if v, ok := r.breakers.Load(backend); ok {
		return v.(*entry)
	}

	policy := r.cfg.policy(backend)
	e := &entry{}
	e.since.Store(time.Now().UnixNano())
	e.cb = gobreaker.NewTwoStepCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        backend,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     policy.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= policy.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.since.Store(time.Now().UnixNano())
			r.onStateChange(name, from, to)
		},
	})

	actual, loaded := r.breakers.LoadOrStore(backend, e)
	if !loaded {
		r.stateGauge.Set(context.Background(), float64(StateClosed), metrics.L(metrics.LabelBackend, backend))
		r.logger.Debug("circuit breaker created",
			clog.String("backend", backend),
			clog.Int("threshold", int(policy.Threshold)),
			clog.Duration("cooldown", policy.Cooldown))
	}
	return actual.(*entry)
}

func (r *registry) onStateChange(backend string, from, to gobreaker.State) {
	ctx := context.Background()
	r.stateGauge.Set(ctx, float64(fromGobreaker(to)), metrics.L(metrics.LabelBackend, backend))
	r.transitions.Inc(ctx,
		metrics.L(metrics.LabelBackend, backend),
		metrics.L(metrics.LabelState, fromGobreaker(to).String()))

	fields := []clog.Field{
		clog.String("backend", backend),
		clog.String("from", fromGobreaker(from).String()),
		clog.String("to", fromGobreaker(to).String()),
	}
	if to == gobreaker.StateOpen {
		r.logger.Warn("circuit breaker opened", fields...)
		return
	}
	r.logger.Info("circuit breaker state changed", fields...)
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	case gobreaker.StateOpen:
		return StateOpen
	default:
		return StateClosed
	}
}
