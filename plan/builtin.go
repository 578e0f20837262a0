package plan

import "time"

// 内置计划使用的后端 ID
const (
	BackendApp  = "app"
	BackendAuth = "auth"
)

// Override 计划的运行时覆盖项，来自配置 plans.<plan>
type Override struct {
	Timeout time.Duration            `mapstructure:"timeout"`
	TTL     map[string]time.Duration `mapstructure:"ttl"`
}

// 各分区的调用
func tasks(required bool) CallSpec {
	return CallSpec{ID: "tasks", Backend: BackendApp, Path: "/app/tasks", Required: required, Field: "tasks"}
}

func projects(required bool) CallSpec {
	return CallSpec{ID: "projects", Backend: BackendApp, Path: "/app/projects", Required: required, Field: "projects"}
}

func goals(required bool) CallSpec {
	return CallSpec{ID: "goals", Backend: BackendApp, Path: "/app/goals", Required: required, Field: "goals"}
}

func summary(required bool) CallSpec {
	return CallSpec{
		ID:       "summary",
		Backend:  BackendApp,
		Path:     "/app/reports/summary",
		Required: required,
		Query:    []string{"period", "from", "to"},
		Field:    "summary",
	}
}

// Builtin 返回五个内置计划。所有分区先使用 defaultTTL，再应用 overrides 中的超时与分区 TTL，
// 覆盖为 0 表示该分区不缓存。
func Builtin(defaultTTL time.Duration, overrides map[string]Override) []Plan {
	plans := []Plan{
		{
			ID:    "dashboard",
			Specs: []CallSpec{tasks(true), projects(true), goals(false)},
		},
		{
			ID: "timer-dashboard",
			Specs: []CallSpec{
				tasks(true),
				{ID: "timer_entries", Backend: BackendApp, Path: "/app/timer/entries", Field: "timer_entries"},
				projects(false),
			},
		},
		{
			ID: "planner",
			Specs: []CallSpec{
				{ID: "habits", Backend: BackendApp, Path: "/app/habits", Required: true, Field: "habits"},
				{ID: "todos", Backend: BackendApp, Path: "/app/todos", Required: true, Field: "todos"},
				goals(false),
			},
		},
		{
			ID:    "reports",
			Specs: []CallSpec{summary(true), tasks(false), projects(false)},
		},
		{
			ID: "overview",
			Specs: []CallSpec{
				{ID: "user", Backend: BackendAuth, Path: "/auth/me", Required: true, Field: "user"},
				tasks(false),
				summary(false),
			},
		},
	}

	for i := range plans {
		plans[i].Timeout = DefaultTimeout
		if defaultTTL > 0 {
			for j := range plans[i].Specs {
				plans[i].Specs[j].CacheTTL = defaultTTL
			}
		}
		o, ok := overrides[plans[i].ID]
		if !ok {
			continue
		}
		if o.Timeout > 0 {
			plans[i].Timeout = o.Timeout
		}
		for j := range plans[i].Specs {
			if ttl, ok := o.TTL[plans[i].Specs[j].ID]; ok {
				plans[i].Specs[j].CacheTTL = ttl
			}
		}
	}
	return plans
}
