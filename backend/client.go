// Package backend 是出站调用客户端。
//
// 每次调用都会：
//   - 按描述符附加凭证（auth.Propagator）
//   - 每次尝试前询问熔断器，熔断打开时直接返回 CircuitOpen，不发起网络请求
//   - 每次尝试都有独立超时，并把结果上报熔断器（4xx 视为成功）
//   - 幂等请求（GET/HEAD/OPTIONS）在网络错误、超时与 5xx 时按退避重试
//
// 调用结果是 Outcome 变体而不是 error，聚合器直接把它交给合并函数。
//
//	out := client.Call(ctx, desc, backend.Get("/app/tasks"), principal)
//	if !out.OK() {
//		return out.Err()
//	}
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

// Client 后端调用客户端，并发安全
type Client struct {
	cfg      *Config
	http     *resty.Client
	breakers breaker.Registry
	prop     auth.Propagator
	logger   clog.Logger
	tracer   oteltrace.Tracer

	requests metrics.Counter
	duration metrics.Histogram
	inFlight metrics.Gauge
	retries  metrics.Counter
}

// New 创建客户端。prop 为 nil 时不附加任何凭证。
func New(cfg *Config, breakers breaker.Registry, prop auth.Propagator, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if breakers == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "backend: breaker registry is required")
	}
	cfg.setDefaults()

	o := &options{logger: clog.Discard(), meter: metrics.Discard()}
	for _, opt := range opts {
		opt(o)
	}

	base := o.transport
	if base == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		base = t
	}

	rc := resty.New().
		SetTransport(trace.Transport(base)).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRetryCount(0).
		SetLogger(restyLogger{o.logger}).
		// 重定向交给调用方（例如 OAuth 跳转需要原样透传）
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))

	c := &Client{
		cfg:      cfg,
		http:     rc,
		breakers: breakers,
		prop:     prop,
		logger:   o.logger,
		tracer:   otel.Tracer("github.com/ceyewan/bff/backend"),
	}

	var err error
	if c.requests, err = o.meter.Counter(MetricRequestsTotal, "Backend calls by outcome"); err != nil {
		return nil, err
	}
	if c.duration, err = o.meter.Histogram(MetricRequestDuration, "Backend call duration including retries",
		metrics.WithUnit("s"), metrics.WithBuckets(durationBuckets)); err != nil {
		return nil, err
	}
	if c.inFlight, err = o.meter.Gauge(MetricRequestsInFlight, "Backend calls in flight"); err != nil {
		return nil, err
	}
	if c.retries, err = o.meter.Counter(MetricRetriesTotal, "Backend call retries"); err != nil {
		return nil, err
	}
	return c, nil
}

// Call 调用后端，永远返回 Outcome
func (c *Client) Call(ctx context.Context, d Descriptor, req Request, p *auth.Principal, opts ...CallOption) Outcome {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "backend "+d.ID, oteltrace.WithAttributes(
		attribute.String("bff.backend", d.ID),
		attribute.String("http.request.method", req.Method),
		attribute.String("url.path", req.Path),
	))
	defer span.End()

	label := metrics.L(metrics.LabelBackend, d.ID)
	c.inFlight.Inc(ctx, label)
	defer c.inFlight.Dec(ctx, label)

	header, err := c.outboundHeader(ctx, d, req, p)
	if err != nil {
		out := Failure(xerrors.KindInternalCompositionError, ReasonInvalidRequest, err.Error())
		c.finish(ctx, span, d, req, &out, start)
		return out
	}

	maxAttempts := 1
	if req.idempotent() && !co.noRetry {
		maxAttempts += d.Retries
	}

	var out Outcome
	attempts := 0
	for {
		attempts++
		var (
			resp    *http.Response
			callErr error
		)
		out, resp, callErr = c.attempt(ctx, d, req, header, co)
		if attempts >= maxAttempts || !c.shouldRetry(ctx, out, resp, callErr) {
			break
		}

		wait := backoff(d, attempts-1, resp)
		c.retries.Inc(ctx, label)
		c.logger.DebugContext(ctx, "retrying backend call",
			clog.String("backend", d.ID),
			clog.String("reason", out.Reason),
			clog.Int("attempt", attempts),
			clog.Duration("backoff", wait))
		if !sleep(ctx, wait) {
			break
		}
	}

	out.Meta.Attempts = attempts
	out.Meta.Duration = time.Since(start)
	c.finish(ctx, span, d, req, &out, start)
	return out
}

func (c *Client) attempt(ctx context.Context, d Descriptor, req Request, header http.Header, co callOptions) (Outcome, *http.Response, error) {
	report := func(bool) {}
	if !co.skipBreaker {
		done, err := c.breakers.Allow(d.ID)
		if err != nil {
			return Failure(xerrors.KindUpstreamUnavailable, ReasonCircuitOpen, err.Error()), nil, nil
		}
		report = done
	}

	actx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()

	r := c.http.R().SetContext(actx).SetDoNotParseResponse(true)
	r.Header = header.Clone()
	if len(req.Query) > 0 {
		r.SetQueryParamsFromValues(req.Query)
	}
	if len(req.Body) > 0 {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, d.URL(req.Path))
	if err != nil {
		report(false)
		return classifyError(ctx, d, err), nil, err
	}

	raw := resp.RawResponse
	body, err := readBody(resp.RawBody(), c.cfg.MaxResponseBytes)
	if err != nil {
		report(false)
		if errors.Is(err, errBodyTooLarge) {
			return Failure(xerrors.KindUpstreamUnavailable, ReasonBodyTooLarge,
				fmt.Sprintf("%s response exceeds %d bytes", d.ID, c.cfg.MaxResponseBytes)), nil, nil
		}
		return classifyError(ctx, d, err), nil, err
	}

	meta := Meta{
		StatusCode:  resp.StatusCode(),
		Header:      resp.Header().Clone(),
		ContentType: resp.Header().Get("Content-Type"),
	}
	status := resp.StatusCode()
	switch {
	case status >= 500:
		report(false)
		out := Failure(xerrors.KindUpstreamUnavailable, ReasonServerError, fmt.Sprintf("%s returned %d", d.ID, status))
		out.Payload, out.Meta = body, meta
		return out, raw, nil
	case status >= 400:
		// 4xx 说明后端是健康的，只是拒绝了请求
		report(true)
		out := Failure(xerrors.KindUpstreamRejected, ReasonRejected, fmt.Sprintf("%s returned %d", d.ID, status))
		out.Payload, out.Meta = body, meta
		return out, raw, nil
	default:
		report(true)
		return Success(body, meta), raw, nil
	}
}

// shouldRetry 只重试超时与不可用，熔断打开与调用方取消不重试
func (c *Client) shouldRetry(ctx context.Context, out Outcome, resp *http.Response, err error) bool {
	if out.Status != StatusFailure || ctx.Err() != nil {
		return false
	}
	switch out.Reason {
	case ReasonCircuitOpen, ReasonCanceled, ReasonBodyTooLarge, ReasonRejected:
		return false
	}
	if out.Kind != xerrors.KindUpstreamTimeout && out.Kind != xerrors.KindUpstreamUnavailable {
		return false
	}
	// 过滤 TLS 证书错误、非法 scheme 等重试也无济于事的错误
	retry, _ := retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	return retry
}

func (c *Client) finish(ctx context.Context, span oteltrace.Span, d Descriptor, req Request, out *Outcome, start time.Time) {
	elapsed := time.Since(start)
	outcome := outcomeLabel(out)
	c.requests.Inc(ctx, metrics.L(metrics.LabelBackend, d.ID), metrics.L(metrics.LabelOutcome, outcome))
	c.duration.Record(ctx, elapsed.Seconds(), metrics.L(metrics.LabelBackend, d.ID))

	span.SetAttributes(
		attribute.Int("bff.attempts", out.Meta.Attempts),
		attribute.String("bff.outcome", outcome),
	)
	if out.Meta.StatusCode > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", out.Meta.StatusCode))
	}

	if out.Status != StatusFailure {
		c.logger.DebugContext(ctx, "backend call succeeded",
			clog.String("backend", d.ID),
			clog.String("path", req.Path),
			clog.Int("status", out.Meta.StatusCode),
			clog.Duration("latency", elapsed))
		return
	}

	trace.MarkSpanError(span, out.Err())
	fields := []clog.Field{
		clog.String("backend", d.ID),
		clog.String("method", req.Method),
		clog.String("path", req.Path),
		clog.String("kind", string(out.Kind)),
		clog.String("reason", out.Reason),
		clog.Int("attempts", out.Meta.Attempts),
		clog.Duration("latency", elapsed),
	}
	if out.Kind == xerrors.KindUpstreamRejected {
		c.logger.DebugContext(ctx, "backend rejected request", append(fields, clog.Int("status", out.Meta.StatusCode))...)
		return
	}
	c.logger.WarnContext(ctx, "backend call failed", append(fields, clog.String("detail", out.Detail))...)
}

func outcomeLabel(out *Outcome) string {
	switch {
	case out.Status == StatusSuccess:
		return "success"
	case out.Reason == ReasonCircuitOpen:
		return "circuit_open"
	case out.Kind == xerrors.KindUpstreamRejected:
		return "rejected"
	case out.Kind == xerrors.KindUpstreamTimeout:
		return "timeout"
	default:
		return "unavailable"
	}
}

// outboundHeader 复制入站头并附加凭证与请求 ID
func (c *Client) outboundHeader(ctx context.Context, d Descriptor, req Request, p *auth.Principal) (http.Header, error) {
	header := ForwardHeaders(req.Header)
	if id := clog.RequestID(ctx); id != "" && header.Get("X-Request-ID") == "" {
		header.Set("X-Request-ID", id)
	}
	if c.prop == nil {
		return header, nil
	}

	hreq, err := http.NewRequestWithContext(ctx, req.Method, d.URL(req.Path), nil)
	if err != nil {
		return nil, xerrors.Wrapf(err, "backend %s: build request", d.ID)
	}
	hreq.Header = header
	if err := c.prop.Attach(hreq, p, d.Target()); err != nil {
		return nil, err
	}
	return hreq.Header, nil
}

// hopHeaders 不转发给后端的请求头
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Content-Length",
	// 由 Transport 自己协商压缩，否则合并时拿到的是压缩后的字节
	"Accept-Encoding",
}

// ForwardHeaders 复制入站请求头，去掉逐跳头与 Host/Content-Length
func ForwardHeaders(in http.Header) http.Header {
	out := in.Clone()
	if out == nil {
		out = http.Header{}
	}
	for _, v := range out.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			out.Del(strings.TrimSpace(name))
		}
	}
	for _, h := range hopHeaders {
		out.Del(h)
	}
	return out
}

// classifyError 把传输层错误映射为 Outcome
func classifyError(parent context.Context, d Descriptor, err error) Outcome {
	if errors.Is(parent.Err(), context.Canceled) {
		return Failure(xerrors.KindUpstreamTimeout, ReasonCanceled, "caller canceled")
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return Failure(xerrors.KindUpstreamTimeout, ReasonTimeout,
			fmt.Sprintf("%s did not respond within %s", d.ID, d.Timeout))
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Failure(xerrors.KindUpstreamUnavailable, ReasonConnectionRefused, err.Error())
	}
	return Failure(xerrors.KindUpstreamUnavailable, ReasonConnectionError, err.Error())
}

var errBodyTooLarge = errors.New("backend: response body too large")

func readBody(rc io.ReadCloser, limit int64) ([]byte, error) {
	if rc == nil {
		return nil, nil
	}
	defer rc.Close()

	body, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return body, nil
}

// backoff 指数退避；后端给出的 Retry-After 同样不超过 BackoffMax
func backoff(d Descriptor, attempt int, resp *http.Response) time.Duration {
	wait := retryablehttp.DefaultBackoff(d.BackoffMin, d.BackoffMax, attempt, resp)
	if wait > d.BackoffMax {
		wait = d.BackoffMax
	}
	return wait
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// restyLogger 把 resty 的内部日志接到 clog
type restyLogger struct {
	logger clog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.logger.Error(fmt.Sprintf(format, v...), clog.String("source", "resty"))
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.logger.Warn(fmt.Sprintf(format, v...), clog.String("source", "resty"))
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.logger.Debug(fmt.Sprintf(format, v...), clog.String("source", "resty"))
}
