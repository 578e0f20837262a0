// Package aggregate 执行组合计划。
//
// 一次 Execute：
//  1. 提取 Principal，受保护的计划认证失败时直接返回，不发起任何后端调用
//  2. 每个 CallSpec 一个 goroutine：先查缓存，未命中再调用后端，成功后写缓存
//  3. 等待全部调用完成或聚合超时，超时后取消仍在进行的调用
//  4. 任一 required 调用失败或未完成，聚合失败，错误类型取最早完成的失败调用
//  5. 否则合并结果，失败的 optional 区块写入 partial
//
// 输出字段顺序只由计划声明决定，与调用完成顺序无关。
package aggregate

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/backend"
	"github.com/ceyewan/bff/cache"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/plan"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

// Caller 后端调用，*backend.Client 实现了该接口
type Caller interface {
	Call(ctx context.Context, d backend.Descriptor, req backend.Request, p *auth.Principal, opts ...backend.CallOption) backend.Outcome
}

// Response 成功的聚合响应，直接作为响应信封输出
type Response struct {
	Data    *plan.Document `json:"data"`
	Partial []string       `json:"partial"`
}

// Aggregator 计划执行器，并发安全。执行之间不共享任何组合状态。
type Aggregator struct {
	cfg       *Config
	plans     *plan.Registry
	backends  map[string]backend.Descriptor
	caller    Caller
	extractor auth.Extractor
	cache     cache.Cache
	logger    clog.Logger
	tracer    oteltrace.Tracer

	requests metrics.Counter
	duration metrics.Histogram
	partials metrics.Counter
}

// New 创建聚合器
func New(cfg *Config, plans *plan.Registry, backends map[string]backend.Descriptor,
	caller Caller, extractor auth.Extractor, opts ...Option) (*Aggregator, error) {
	if plans == nil || caller == nil || extractor == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "aggregate: plans, caller and extractor are required")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.setDefaults()
	o := applyOptions(opts)

	a := &Aggregator{
		cfg:       cfg,
		plans:     plans,
		backends:  backends,
		caller:    caller,
		extractor: extractor,
		cache:     o.cache,
		logger:    o.logger,
		tracer:    otel.Tracer("github.com/ceyewan/bff/aggregate"),
	}

	var err error
	if a.requests, err = o.meter.Counter(MetricRequestsTotal, "Aggregate requests by outcome"); err != nil {
		return nil, err
	}
	if a.duration, err = o.meter.Histogram(MetricDuration, "Aggregate request duration",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets)); err != nil {
		return nil, err
	}
	if a.partials, err = o.meter.Counter(MetricPartialSections, "Optional sections omitted from aggregate responses"); err != nil {
		return nil, err
	}
	return a, nil
}

// Plans 计划注册表
func (a *Aggregator) Plans() *plan.Registry { return a.plans }

// Execute 执行计划。失败时返回 *Error，其 Cause 带有 xerrors.Kind。
func (a *Aggregator) Execute(ctx context.Context, planID string, inbound *http.Request) (*Response, error) {
	p, err := a.plans.Get(planID)
	if err != nil {
		return nil, newError(planID, "", err, fmt.Sprintf("unknown aggregate %q", planID))
	}

	start := time.Now()
	ctx = clog.WithPlan(ctx, p.ID)
	ctx, span := a.tracer.Start(ctx, "aggregate "+p.ID, oteltrace.WithAttributes(
		attribute.String("bff.plan", p.ID),
		attribute.Int("bff.sections", len(p.Specs)),
	))
	defer span.End()

	principal, err := a.principal(ctx, p, inbound)
	if err != nil {
		aerr := newError(p.ID, "", err, "")
		a.finish(ctx, span, p, start, nil, aerr)
		return nil, aerr
	}

	resp, aerr := a.run(ctx, p, principal, inbound)
	a.finish(ctx, span, p, start, resp, aerr)
	if aerr != nil {
		return nil, aerr
	}
	return resp, nil
}

// principal 受保护计划要求认证成功；公开计划认证失败时按匿名处理
func (a *Aggregator) principal(ctx context.Context, p *plan.Plan, inbound *http.Request) (*auth.Principal, error) {
	if inbound == nil {
		inbound = &http.Request{Header: http.Header{}}
	}
	principal, err := auth.Resolve(ctx, a.extractor, inbound)
	if err == nil {
		return principal, nil
	}
	if p.Public {
		a.logger.DebugContext(ctx, "serving public plan anonymously", clog.Error(err))
		return auth.Anonymous(inbound.Header.Get("Cookie")), nil
	}
	return nil, err
}

type result struct {
	index int
	out   backend.Outcome
}

func (a *Aggregator) run(ctx context.Context, p *plan.Plan, principal *auth.Principal, inbound *http.Request) (*Response, *Error) {
	actx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	params := queryParams(inbound)
	var header http.Header
	if inbound != nil {
		header = inbound.Header
	}

	n := len(p.Specs)
	results := make(chan result, n)
	for i := range p.Specs {
		go func(i int) {
			results <- result{index: i, out: a.resolve(actx, p, p.Specs[i], principal, params, header)}
		}(i)
	}

	// 通道按完成顺序交付，第一个失败的 required 调用就是最早完成的那个
	outcomes := make(map[string]backend.Outcome, n)
	var firstFailed *result
collect:
	for pending := n; pending > 0; pending-- {
		select {
		case r := <-results:
			if actx.Err() != nil {
				// 截止之后才交付的结果按未完成处理
				break collect
			}
			s := p.Specs[r.index]
			outcomes[s.ID] = r.out
			if s.Required && r.out.Status == backend.StatusFailure && firstFailed == nil {
				firstFailed = &r
			}
		case <-actx.Done():
			break collect
		}
	}
	// 取消尚未完成的调用，它们的结果被丢弃
	cancel()

	if firstFailed != nil {
		s := p.Specs[firstFailed.index]
		return nil, newError(p.ID, s.ID, firstFailed.out.Err(), requiredMessage(s, firstFailed.out))
	}

	var partial []string
	for _, s := range p.Specs {
		out, done := outcomes[s.ID]
		if !done && s.Required {
			cause := fmt.Errorf("section %s unresolved after %s", s.ID, p.Timeout)
			if err := ctx.Err(); err != nil {
				cause = fmt.Errorf("section %s unresolved: %w", s.ID, err)
			}
			return nil, newError(p.ID, s.ID, xerrors.WithKind(cause, xerrors.KindAggregateTimeout), fmt.Sprintf("%s did not complete within %s", s.ID, p.Timeout))
		}
		if !s.Required && (!done || out.Status == backend.StatusFailure) {
			partial = append(partial, s.ID)
		}
	}

	doc, err := a.merge(p, plan.NewResults(p.Specs, outcomes))
	if err != nil {
		a.logger.ErrorContext(ctx, "merge failed", clog.String("plan", p.ID), clog.Error(err))
		return nil, newError(p.ID, "", xerrors.WithKind(err, xerrors.KindInternalCompositionError), "")
	}
	if partial == nil {
		partial = []string{}
	}
	return &Response{Data: doc, Partial: partial}, nil
}

func (a *Aggregator) merge(p *plan.Plan, results plan.Results) (doc *plan.Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("merge panic: %v", r)
		}
	}()
	doc, err = p.Merge(results)
	if err == nil && doc == nil {
		doc = plan.NewDocument()
	}
	return doc, err
}

// resolve 处理单个区块：缓存命中直接返回，否则调用后端并在成功后写缓存
func (a *Aggregator) resolve(ctx context.Context, p *plan.Plan, s plan.CallSpec, principal *auth.Principal,
	params map[string]string, header http.Header) backend.Outcome {
	ctx, span := a.tracer.Start(ctx, "section "+s.ID, oteltrace.WithAttributes(
		attribute.String("bff.section", s.ID),
		attribute.String("bff.backend", s.Backend),
		attribute.Bool("bff.required", s.Required),
	))
	defer span.End()

	d, ok := a.backends[s.Backend]
	if !ok {
		out := backend.Failure(xerrors.KindInternalCompositionError, "UnknownBackend",
			xerrors.Wrapf(backend.ErrUnknownBackend, "%q", s.Backend).Error())
		trace.MarkSpanError(span, out.Err())
		return out
	}

	// 公开计划的匿名调用方拿不到服务令牌，可选区块直接跳过
	if !principal.Authenticated() && !s.Required && d.Credentials == auth.CredentialServiceToken {
		span.SetAttributes(attribute.String("bff.outcome", "skipped"))
		return backend.Skipped("Unauthenticated")
	}

	var (
		key string
		gen uint64
	)
	if s.Cacheable() {
		key = cache.Key(principal.UserID, s.KeyTemplate(), params)
		gen = a.cache.Generation(key)
		if e, hit := a.cache.Get(ctx, key); hit {
			span.SetAttributes(attribute.Bool("bff.cache_hit", true))
			return backend.Success(e.Payload, backend.Meta{
				StatusCode:  http.StatusOK,
				ContentType: e.ContentType,
				FromCache:   true,
			})
		}
	}

	req := s.Request(params)
	req.Header = backend.ForwardHeaders(header)
	out := a.caller.Call(ctx, d, req, principal)
	span.SetAttributes(attribute.String("bff.outcome", out.Status.String()))
	if !out.OK() {
		trace.MarkSpanError(span, out.Err())
		return out
	}

	if key != "" && out.Meta.StatusCode == http.StatusOK {
		// 聚合超时或调用方断开不影响已完成区块的写入；调用期间该用户的缓存被失效过则不回填
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.CacheWriteTimeout)
		_ = a.cache.Fill(wctx, key, gen, cache.Entry{Payload: out.Payload, ContentType: out.Meta.ContentType}, s.CacheTTL)
		cancel()
	}
	return out
}

func (a *Aggregator) finish(ctx context.Context, span oteltrace.Span, p *plan.Plan, start time.Time, resp *Response, err *Error) {
	elapsed := time.Since(start)
	planLabel := metrics.L(metrics.LabelPlan, p.ID)
	a.duration.Record(ctx, elapsed.Seconds(), planLabel)

	if err != nil {
		a.requests.Inc(ctx, planLabel, metrics.L(metrics.LabelOutcome, outcomeError))
		trace.MarkSpanError(span, err)
		span.SetAttributes(attribute.String("bff.error_kind", string(err.Kind)))
		level := a.logger.WarnContext
		if err.Kind == xerrors.KindUnauthenticated {
			level = a.logger.DebugContext
		}
		level(ctx, "aggregate failed",
			clog.String("kind", string(err.Kind)),
			clog.String("section", err.Section),
			clog.Duration("latency", elapsed),
			clog.Error(err.Cause))
		return
	}

	if len(resp.Partial) == 0 {
		a.requests.Inc(ctx, planLabel, metrics.L(metrics.LabelOutcome, outcomeSuccess))
		a.logger.DebugContext(ctx, "aggregate completed", clog.Duration("latency", elapsed))
		return
	}

	a.requests.Inc(ctx, planLabel, metrics.L(metrics.LabelOutcome, outcomePartial))
	for _, section := range resp.Partial {
		a.partials.Inc(ctx, planLabel, metrics.L(metrics.LabelSection, section))
	}
	span.SetAttributes(attribute.StringSlice("bff.partial", resp.Partial))
	a.logger.InfoContext(ctx, "aggregate completed with partial sections",
		clog.Any("partial", resp.Partial),
		clog.Duration("latency", elapsed))
}

func requiredMessage(s plan.CallSpec, out backend.Outcome) string {
	switch out.Kind {
	case xerrors.KindUpstreamRejected:
		return fmt.Sprintf("%s request rejected by %s", s.ID, s.Backend)
	case xerrors.KindUpstreamTimeout:
		return fmt.Sprintf("%s timed out", s.ID)
	case xerrors.KindUpstreamUnavailable:
		return fmt.Sprintf("%s unavailable", s.ID)
	default:
		return ""
	}
}

// queryParams 入站查询参数，每个参数取第一个值
func queryParams(r *http.Request) map[string]string {
	if r == nil || r.URL == nil {
		return nil
	}
	q := r.URL.Query()
	out := make(map[string]string, len(q))
	for k, v := range q {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
