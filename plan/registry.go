package plan

import (
	"sort"
	"strings"

	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/xerrors"
)

// Registry 计划注册表，构建后只读，并发安全
type Registry struct {
	plans map[string]*Plan
	ids   []string
}

// NewRegistry 校验并注册计划。descriptors 用于确认后端存在且单次调用超时短于聚合超时。
func NewRegistry(descriptors map[string]backend.Descriptor, plans ...Plan) (*Registry, error) {
	r := &Registry{plans: make(map[string]*Plan, len(plans))}
	for i := range plans {
		p := plans[i]
		if err := validate(&p, descriptors); err != nil {
			return nil, err
		}
		if _, dup := r.plans[p.ID]; dup {
			return nil, xerrors.Wrapf(ErrInvalidPlan, "duplicate plan %q", p.ID)
		}
		p.Specs = append([]CallSpec(nil), p.Specs...)
		if p.Merge == nil {
			p.Merge = SectionMerge
		}
		r.plans[p.ID] = &p
		r.ids = append(r.ids, p.ID)
	}
	sort.Strings(r.ids)
	return r, nil
}

func validate(p *Plan, descriptors map[string]backend.Descriptor) error {
	if p.ID == "" {
		return xerrors.Wrap(ErrInvalidPlan, "plan id is required")
	}
	if p.Timeout <= 0 {
		p.Timeout = DefaultTimeout
	}
	if len(p.Specs) == 0 {
		return xerrors.Wrapf(ErrInvalidPlan, "plan %s has no calls", p.ID)
	}

	seen := make(map[string]bool, len(p.Specs))
	for _, s := range p.Specs {
		if s.ID == "" {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: call id is required", p.ID)
		}
		if seen[s.ID] {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: duplicate call %q", p.ID, s.ID)
		}
		seen[s.ID] = true

		if !strings.HasPrefix(s.Path, "/") {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: call %s path %q must start with /", p.ID, s.ID, s.Path)
		}
		if s.CacheTTL < 0 {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: call %s has negative cache ttl", p.ID, s.ID)
		}
		d, ok := descriptors[s.Backend]
		if !ok {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: call %s uses unknown backend %q", p.ID, s.ID, s.Backend)
		}
		if d.Timeout >= p.Timeout {
			return xerrors.Wrapf(ErrInvalidPlan, "plan %s: backend %s timeout %s must be shorter than plan timeout %s",
				p.ID, s.Backend, d.Timeout, p.Timeout)
		}
	}
	return nil
}

// Get 按 ID 查找计划，不存在时返回 ErrUnknownPlan（Kind 为 NotFound）
func (r *Registry) Get(id string) (*Plan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, xerrors.Wrapf(ErrUnknownPlan, "%q", id)
	}
	return p, nil
}

// IDs 所有计划 ID，按字典序
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}
