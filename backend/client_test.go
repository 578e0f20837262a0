package backend

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/auth"
	"github.com/ceyewan/bff/breaker"
	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/testkit"
	"github.com/ceyewan/bff/xerrors"
)

const serviceSecret = "service-token-secret-at-least-32-bytes"

func newTestClient(t *testing.T, threshold uint32, cfg *Config) (*Client, breaker.Registry) {
	t.Helper()
	kit := testkit.NewKit(t)

	reg, err := breaker.New(&breaker.Config{Threshold: threshold, Cooldown: time.Minute},
		breaker.WithLogger(kit.Logger), breaker.WithMeter(kit.Meter))
	require.NoError(t, err)
	prop, err := auth.NewPropagator(&auth.Config{ServiceTokenSecret: serviceSecret})
	require.NoError(t, err)

	c, err := New(cfg, reg, prop, WithLogger(kit.Logger), WithMeter(kit.Meter))
	require.NoError(t, err)
	return c, reg
}

func testDescriptor(id, baseURL string, retries int) Descriptor {
	d := Descriptor{
		ID:         id,
		BaseURL:    baseURL,
		Timeout:    500 * time.Millisecond,
		Retries:    retries,
		BackoffMin: 5 * time.Millisecond,
		BackoffMax: 10 * time.Millisecond,
	}
	d.SetDefaults()
	return d
}

// countingServer 统计请求次数，handler 由调用方决定响应
func countingServer(t *testing.T, h func(n int32, w http.ResponseWriter, r *http.Request)) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h(hits.Add(1), w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func testPrincipal() *auth.Principal {
	return &auth.Principal{
		UserID: "7",
		Scopes: []string{"tasks:read"},
		Source: auth.SourceJWT,
		Token:  "session-token",
		Cookie: "access_token=session-token",
	}
}

func TestCallSuccessForwardsCredentials(t *testing.T) {
	var got http.Header
	var query string
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		query = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"tasks":[{"id":1}]}`))
	})

	c, _ := newTestClient(t, 5, nil)
	ctx := clog.WithRequestID(context.Background(), "req-1")
	req := Get("/app/tasks")
	req.Query = map[string][]string{"status": {"open"}}
	req.Header = http.Header{"Accept-Encoding": {"br"}, "Connection": {"keep-alive"}}

	out := c.Call(ctx, testDescriptor("app", srv.URL, 2), req, testPrincipal())

	require.True(t, out.OK(), out.String())
	assert.Equal(t, `{"tasks":[{"id":1}]}`, string(out.Payload))
	assert.Equal(t, http.StatusOK, out.Meta.StatusCode)
	assert.Equal(t, "application/json", out.Meta.ContentType)
	assert.Equal(t, 1, out.Meta.Attempts)
	assert.EqualValues(t, 1, hits.Load())

	assert.Equal(t, "access_token=session-token", got.Get("Cookie"))
	assert.Equal(t, "Bearer session-token", got.Get("Authorization"))
	assert.Equal(t, "req-1", got.Get("X-Request-ID"))
	assert.Equal(t, "bff/1.0", got.Get("User-Agent"))
	assert.NotEqual(t, "br", got.Get("Accept-Encoding"))
	assert.Equal(t, "status=open", query)
}

func TestCallRetriesIdempotentRequests(t *testing.T) {
	srv, hits := countingServer(t, func(n int32, w http.ResponseWriter, _ *http.Request) {
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	c, reg := newTestClient(t, 5, nil)
	out := c.Call(context.Background(), testDescriptor("app", srv.URL, 2), Get("/app/goals"), nil)

	require.True(t, out.OK(), out.String())
	assert.Equal(t, 3, out.Meta.Attempts)
	assert.EqualValues(t, 3, hits.Load())
	// 成功重置了连续失败计数
	assert.Equal(t, uint32(0), reg.Status("app").ConsecutiveFailures)
}

func TestCallRetryAfterIsBoundedByBackoffMax(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	c, _ := newTestClient(t, 5, nil)
	start := time.Now()
	out := c.Call(context.Background(), testDescriptor("app", srv.URL, 1), Get("/app/goals"), nil)

	assert.Equal(t, xerrors.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, 2, out.Meta.Attempts)
	assert.EqualValues(t, 2, hits.Load())
	assert.Less(t, time.Since(start), time.Second, "Retry-After must not exceed BackoffMax")

	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"3600"}}}
	assert.Equal(t, 10*time.Millisecond, backoff(testDescriptor("app", srv.URL, 1), 0, resp))
}

func TestCallDoesNotRetryNonIdempotent(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c, _ := newTestClient(t, 5, nil)
	req := Request{Method: http.MethodPost, Path: "/app/tasks", Body: []byte(`{"title":"x"}`)}
	out := c.Call(context.Background(), testDescriptor("app", srv.URL, 3), req, nil)

	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, xerrors.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, ReasonServerError, out.Reason)
	assert.Equal(t, 1, out.Meta.Attempts)
	assert.EqualValues(t, 1, hits.Load())
	assert.Equal(t, http.StatusBadGateway, xerrors.StatusOf(out.Err()))
}

func TestCallRejectedKeepsUpstreamResponse(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "access_token", Value: "", MaxAge: -1})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"duplicate"}`))
	})

	c, reg := newTestClient(t, 2, nil)
	d := testDescriptor("app", srv.URL, 2)
	var out Outcome
	for range 4 {
		out = c.Call(context.Background(), d, Get("/app/tasks"), nil)
	}

	assert.Equal(t, xerrors.KindUpstreamRejected, out.Kind)
	assert.Equal(t, http.StatusConflict, out.Meta.StatusCode)
	assert.Equal(t, `{"error":"duplicate"}`, string(out.Payload))
	assert.NotEmpty(t, out.Meta.Header.Values("Set-Cookie"))
	assert.Equal(t, http.StatusConflict, xerrors.StatusOf(out.Err()))
	// 4xx 不重试，也不计入熔断
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, breaker.StateClosed, reg.State("app"))
}

func TestCallTimeout(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	c, _ := newTestClient(t, 5, nil)
	d := testDescriptor("app", srv.URL, 0)
	d.Timeout = 50 * time.Millisecond

	start := time.Now()
	out := c.Call(context.Background(), d, Get("/app/goals"), nil)

	assert.Equal(t, xerrors.KindUpstreamTimeout, out.Kind)
	assert.Equal(t, ReasonTimeout, out.Reason)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, http.StatusGatewayTimeout, xerrors.StatusOf(out.Err()))
}

func TestCallCanceledByCaller(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	c, _ := newTestClient(t, 5, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(20*time.Millisecond, cancel)

	out := c.Call(ctx, testDescriptor("app", srv.URL, 2), Get("/app/goals"), nil)

	assert.Equal(t, StatusFailure, out.Status)
	assert.Equal(t, ReasonCanceled, out.Reason)
	assert.Equal(t, 1, out.Meta.Attempts)
}

func TestCircuitOpenSkipsNetwork(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	c, reg := newTestClient(t, 3, nil)
	d := testDescriptor("app", srv.URL, 0)
	for range 3 {
		out := c.Call(context.Background(), d, Get("/app/tasks"), nil)
		require.Equal(t, ReasonServerError, out.Reason)
	}
	require.Equal(t, breaker.StateOpen, reg.State("app"))

	out := c.Call(context.Background(), d, Get("/app/tasks"), nil)
	assert.Equal(t, xerrors.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, ReasonCircuitOpen, out.Reason)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, http.StatusBadGateway, xerrors.StatusOf(out.Err()))

	// 深度健康检查不受熔断影响
	err := c.Probe(context.Background(), d)
	require.Error(t, err)
	assert.EqualValues(t, 4, hits.Load())
	assert.Equal(t, breaker.StateOpen, reg.State("app"))
}

func TestCallRetriesStopWhenCircuitOpens(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c, _ := newTestClient(t, 2, nil)
	out := c.Call(context.Background(), testDescriptor("app", srv.URL, 5), Get("/app/tasks"), nil)

	// 第二次失败打开熔断，第三次尝试直接被拒绝
	assert.Equal(t, ReasonCircuitOpen, out.Reason)
	assert.Equal(t, 3, out.Meta.Attempts)
	assert.EqualValues(t, 2, hits.Load())
}

func TestCallConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := newTestClient(t, 5, nil)
	out := c.Call(context.Background(), testDescriptor("app", url, 0), Get("/app/tasks"), nil)

	assert.Equal(t, xerrors.KindUpstreamUnavailable, out.Kind)
	assert.Equal(t, ReasonConnectionRefused, out.Reason)
}

func TestCallBodyTooLarge(t *testing.T) {
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 100)))
	})

	c, _ := newTestClient(t, 5, &Config{MaxResponseBytes: 16})
	out := c.Call(context.Background(), testDescriptor("app", srv.URL, 2), Get("/app/tasks"), nil)

	assert.Equal(t, ReasonBodyTooLarge, out.Reason)
	assert.Equal(t, 1, out.Meta.Attempts)
}

func TestCallRedirectIsNotFollowed(t *testing.T) {
	srv, hits := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "https://accounts.example.com/o/oauth2", http.StatusFound)
	})

	c, _ := newTestClient(t, 5, nil)
	out := c.Call(context.Background(), testDescriptor("auth", srv.URL, 0), Get("/auth/google"), nil)

	require.True(t, out.OK(), out.String())
	assert.Equal(t, http.StatusFound, out.Meta.StatusCode)
	assert.Equal(t, "https://accounts.example.com/o/oauth2", out.Meta.Header.Get("Location"))
	assert.EqualValues(t, 1, hits.Load())
}

func TestCallServiceToken(t *testing.T) {
	var authz, cookie string
	srv, _ := countingServer(t, func(_ int32, w http.ResponseWriter, r *http.Request) {
		authz = r.Header.Get("Authorization")
		cookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte(`{}`))
	})

	c, _ := newTestClient(t, 5, nil)
	d := testDescriptor("reports", srv.URL, 0)
	d.Credentials = auth.CredentialServiceToken
	req := Get("/app/reports/summary")
	req.Header = http.Header{"Cookie": {"access_token=session-token"}}

	out := c.Call(context.Background(), d, req, testPrincipal())
	require.True(t, out.OK(), out.String())

	assert.Empty(t, cookie)
	require.True(t, strings.HasPrefix(authz, "Bearer "))
	claims, err := auth.ParseServiceToken(strings.TrimPrefix(authz, "Bearer "), serviceSecret, "reports")
	require.NoError(t, err)
	assert.Equal(t, "7", claims.Subject)
}

func TestForwardHeaders(t *testing.T) {
	in := http.Header{
		"Connection":      {"keep-alive, X-Private"},
		"X-Private":       {"secret"},
		"Content-Length":  {"12"},
		"Accept-Encoding": {"gzip"},
		"Content-Type":    {"application/json"},
		"Cookie":          {"a=b"},
	}
	out := ForwardHeaders(in)

	assert.Equal(t, http.Header{
		"Content-Type": {"application/json"},
		"Cookie":       {"a=b"},
	}, out)
	assert.Equal(t, "secret", in.Get("X-Private"))
	assert.NotNil(t, ForwardHeaders(nil))
}

func TestNewRequiresBreakers(t *testing.T) {
	_, err := New(nil, nil, nil)
	assert.ErrorIs(t, err, xerrors.ErrInvalidInput)
}
