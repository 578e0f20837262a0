// Package breaker 为每个后端维护一个独立的熔断器。
//
// 状态机：
//   - Closed -> Open：连续失败次数达到 Threshold
//   - Open -> HalfOpen：进入 Open 后经过 Cooldown
//   - HalfOpen -> Closed：试探请求成功；HalfOpen -> Open：试探请求失败
//
// HalfOpen 状态下同一时刻只放行一个试探请求，其余调用者按 Open 处理。
// 熔断器基于 gobreaker 的 TwoStepCircuitBreaker 实现，调用方先 Allow 再上报结果：
//
//	done, err := reg.Allow("app")
//	if err != nil {
//		return err // ErrOpen，不发起网络请求
//	}
//	resp, err := doCall()
//	done(err == nil)
package breaker

import (
	"time"

	"github.com/ceyewan/bff/clog"
)

// Registry 按后端 ID 管理熔断器，所有方法并发安全
type Registry interface {
	// Allow 询问是否允许对 backend 发起一次调用。
	// 允许时返回 done，调用结束后必须恰好调用一次以上报结果；拒绝时返回 ErrOpen。
	Allow(backend string) (done func(success bool), err error)

	// State 返回 backend 当前状态，未使用过的后端视为 Closed
	State(backend string) State

	// Status 返回 backend 的状态详情
	Status(backend string) Status

	// Snapshot 返回所有已创建熔断器的状态
	Snapshot() map[string]State
}

// State 熔断器状态
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Status 熔断器状态详情
type Status struct {
	State               State     `json:"state"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	Since               time.Time `json:"since"`
}

// New 创建熔断器注册表。熔断器在首次 Allow 时按后端懒加载创建。
func New(cfg *Config, opts ...Option) (Registry, error) {
	if cfg == nil {
		return nil, ErrConfigNil
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	r, err := newRegistry(cfg, o)
	if err != nil {
		return nil, err
	}

	o.logger.Info("circuit breaker registry created",
		clog.Int("threshold", int(cfg.Threshold)),
		clog.Duration("cooldown", cfg.Cooldown),
		clog.Int("overrides", len(cfg.Backends)))
	return r, nil
}
