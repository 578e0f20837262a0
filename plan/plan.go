// Package plan 描述聚合端点的组合计划。
//
// 每个 Plan 对应一个聚合端点，由有序的 CallSpec 与一个合并函数组成。
// 计划在启动时构建并校验一次，之后只读：
//
//	reg, err := plan.NewRegistry(descriptors, plan.Builtin(overrides)...)
//	p, err := reg.Get("dashboard")
//
// 合并函数只依赖 Results，输出字段顺序由 CallSpec 的声明顺序决定，
// 与各调用完成的先后无关。
package plan

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ceyewan/bff/backend"
)

// DefaultTimeout 计划的默认聚合超时
const DefaultTimeout = 8 * time.Second

// CallSpec 计划中的一次后端调用
type CallSpec struct {
	// ID 同时作为响应中的字段名与 partial 列表中的名称
	ID      string
	Backend string
	// Path 路径模板，{name} 由入站查询参数替换
	Path     string
	Required bool

	// Query 需要转发给后端的入站查询参数
	Query []string

	// CacheKey 缓存 Key 模板，为空时由后端与路径推导；CacheTTL <= 0 时不缓存
	CacheKey string
	CacheTTL time.Duration

	// Field 非空且响应是含该字段的对象时，只取该字段
	Field string
}

// Cacheable 是否缓存该调用的成功结果
func (s CallSpec) Cacheable() bool { return s.CacheTTL > 0 }

// KeyTemplate 缓存 Key 模板
func (s CallSpec) KeyTemplate() string {
	if s.CacheKey != "" {
		return s.CacheKey
	}
	key := s.Backend + ":" + s.Path
	if len(s.Query) == 0 {
		return key
	}
	names := append([]string(nil), s.Query...)
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + "={" + n + "}"
	}
	return key + "?" + strings.Join(parts, "&")
}

// Request 按入站参数构造出站请求
func (s CallSpec) Request(params map[string]string) backend.Request {
	req := backend.Get(RenderPath(s.Path, params))
	if len(s.Query) > 0 {
		q := url.Values{}
		for _, name := range s.Query {
			if v, ok := params[name]; ok {
				q.Set(name, v)
			}
		}
		if len(q) > 0 {
			req.Query = q
		}
	}
	return req
}

// RenderPath 替换路径模板中的 {name}，值做路径转义
func RenderPath(path string, params map[string]string) string {
	if !strings.Contains(path, "{") {
		return path
	}
	pairs := make([]string, 0, 2*len(params))
	for k, v := range params {
		pairs = append(pairs, "{"+k+"}", url.PathEscape(v))
	}
	return strings.NewReplacer(pairs...).Replace(path)
}

// Plan 一个聚合端点的组合计划，构建后不可修改
type Plan struct {
	ID      string
	Specs   []CallSpec
	Merge   MergeFunc
	Timeout time.Duration
	// Public 为 true 时允许匿名调用
	Public bool
}

// Spec 按 ID 查找调用
func (p *Plan) Spec(id string) (CallSpec, bool) {
	for _, s := range p.Specs {
		if s.ID == id {
			return s, true
		}
	}
	return CallSpec{}, false
}

// Backends 计划涉及的后端 ID，按首次出现的顺序
func (p *Plan) Backends() []string {
	seen := make(map[string]bool, len(p.Specs))
	var out []string
	for _, s := range p.Specs {
		if !seen[s.Backend] {
			seen[s.Backend] = true
			out = append(out, s.Backend)
		}
	}
	return out
}

// MergeFunc 合并函数，必须是 Results 的纯函数
type MergeFunc func(Results) (*Document, error)

// Results 一次执行中各调用的结果
type Results struct {
	specs    []CallSpec
	outcomes map[string]backend.Outcome
}

// NewResults 构造 Results，outcomes 中缺失的调用视为未完成
func NewResults(specs []CallSpec, outcomes map[string]backend.Outcome) Results {
	return Results{specs: specs, outcomes: outcomes}
}

// Specs 按声明顺序返回调用
func (r Results) Specs() []CallSpec { return r.specs }

// Outcome 返回调用结果，未完成时 ok 为 false
func (r Results) Outcome(id string) (backend.Outcome, bool) {
	out, ok := r.outcomes[id]
	return out, ok
}

// Payload 成功调用的响应体
func (r Results) Payload(id string) ([]byte, bool) {
	out, ok := r.outcomes[id]
	if !ok || !out.OK() {
		return nil, false
	}
	return out.Payload, true
}
