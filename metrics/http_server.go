package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/ceyewan/bff/xerrors"
)

const (
	MetricHTTPRequestsTotal    = "bff_http_requests_total"
	MetricHTTPRequestDuration  = "bff_http_request_duration_seconds"
	MetricHTTPRequestsInFlight = "bff_http_requests_in_flight"
	MetricErrorsTotal          = "bff_errors_total"
)

// LabelKind 错误分类标签，取值为 xerrors.Kind
const LabelKind = "kind"

// ContextErrorKind 写错误响应的 handler 把 Kind 存到 gin.Context 的这个 key 下
const ContextErrorKind = "bff.error_kind"

var httpDurationBuckets = []float64{.005, .01, .025, .05, .075, .1, .25, .5, .75, 1, 2.5, 5, 7.5, 10}

// HTTPServerMetricsConfig HTTP 入口指标配置
type HTTPServerMetricsConfig struct {
	Service         string
	DurationBuckets []float64
}

// DefaultHTTPServerMetricsConfig 默认配置
func DefaultHTTPServerMetricsConfig(service string) *HTTPServerMetricsConfig {
	return &HTTPServerMetricsConfig{Service: service, DurationBuckets: httpDurationBuckets}
}

// HTTPServerMetrics 入口请求的数量、耗时、并发与按 Kind 的错误计数
type HTTPServerMetrics struct {
	service  string
	requests Counter
	duration Histogram
	inFlight Gauge
	errors   Counter
}

// NewHTTPServerMetrics 在 m 上注册入口指标
func NewHTTPServerMetrics(m Meter, cfg *HTTPServerMetricsConfig) (*HTTPServerMetrics, error) {
	if m == nil || cfg == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "metrics: meter and config are required")
	}
	service := strings.TrimSpace(cfg.Service)
	if service == "" {
		service = "bff"
	}
	buckets := cfg.DurationBuckets
	if len(buckets) == 0 {
		buckets = httpDurationBuckets
	}

	hm := &HTTPServerMetrics{service: service}
	var err error
	if hm.requests, err = m.Counter(MetricHTTPRequestsTotal, "Total number of inbound HTTP requests."); err != nil {
		return nil, xerrors.Wrap(err, "create http request counter")
	}
	if hm.duration, err = m.Histogram(MetricHTTPRequestDuration, "Inbound HTTP request duration in seconds.",
		WithUnit("s"), WithBuckets(buckets)); err != nil {
		return nil, xerrors.Wrap(err, "create http duration histogram")
	}
	if hm.inFlight, err = m.Gauge(MetricHTTPRequestsInFlight, "Inbound HTTP requests currently being served."); err != nil {
		return nil, xerrors.Wrap(err, "create http in-flight gauge")
	}
	if hm.errors, err = m.Counter(MetricErrorsTotal, "Error responses by kind and route."); err != nil {
		return nil, xerrors.Wrap(err, "create error counter")
	}
	return hm, nil
}

// Begin 请求开始，返回的 end 必须在请求结束时调用一次
func (m *HTTPServerMetrics) Begin(ctx context.Context) (end func(method, route string, status int, kind string)) {
	if m == nil {
		return func(string, string, int, string) {}
	}
	svc := L(LabelService, m.service)
	if m.inFlight != nil {
		m.inFlight.Inc(ctx, svc)
	}
	start := time.Now()
	return func(method, route string, status int, kind string) {
		if m.inFlight != nil {
			m.inFlight.Dec(ctx, svc)
		}
		m.Observe(ctx, method, route, status, time.Since(start))
		if kind != "" && m.errors != nil {
			m.errors.Inc(ctx, svc, L(LabelKind, kind), L(LabelRoute, normalizeRoute(route)))
		}
	}
}

// Observe 记录一次已完成的请求
func (m *HTTPServerMetrics) Observe(ctx context.Context, method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = "GET"
	}
	labels := []Label{
		L(LabelService, m.service),
		L(LabelOperation, OperationHTTPServer),
		L(LabelMethod, method),
		L(LabelRoute, normalizeRoute(route)),
		L(LabelStatusClass, HTTPStatusClass(status)),
		L(LabelOutcome, HTTPOutcome(status)),
	}
	m.requests.Inc(ctx, labels...)
	m.duration.Record(ctx, d.Seconds(), labels...)
}

func normalizeRoute(route string) string {
	route = strings.TrimSpace(route)
	if route == "" {
		return UnknownRoute
	}
	return route
}
