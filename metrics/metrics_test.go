package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("nil 配置报错", func(t *testing.T) {
		_, err := New(nil)
		assert.Error(t, err)
	})

	t.Run("禁用时返回 noop", func(t *testing.T) {
		m, err := New(&Config{Enabled: false})
		require.NoError(t, err)
		_, ok := m.(noopMeter)
		assert.True(t, ok)
	})
}

func TestPrometheusScrape(t *testing.T) {
	ctx := context.Background()
	m, err := New(&Config{Enabled: true, ServiceName: "bff-test"})
	require.NoError(t, err)
	defer m.Shutdown(ctx)

	counter, err := m.Counter("bff_test_requests_total", "test requests")
	require.NoError(t, err)
	counter.Inc(ctx, L(LabelBackend, "app"))

	gauge, err := m.Gauge("bff_test_state", "test state")
	require.NoError(t, err)
	gauge.Inc(ctx, L(LabelBackend, "app"))
	gauge.Inc(ctx, L(LabelBackend, "app"))
	gauge.Dec(ctx, L(LabelBackend, "app"))

	hist, err := m.Histogram("bff_test_duration", "test duration", WithUnit("s"), WithBuckets([]float64{0.1, 1}))
	require.NoError(t, err)
	hist.Record(ctx, 0.05, L(LabelBackend, "app"))

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "bff_test_requests_total")
	assert.Contains(t, string(body), `backend="app"`)
	assert.Contains(t, string(body), "bff_test_state")
	assert.Contains(t, string(body), MetricBuildInfo)
}

func TestDiscard(t *testing.T) {
	ctx := context.Background()
	m := Discard()
	c, err := m.Counter("x", "x")
	require.NoError(t, err)
	c.Inc(ctx)
	h, _ := m.Histogram("y", "y")
	h.Record(ctx, 1)
	assert.NoError(t, m.Shutdown(ctx))

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
