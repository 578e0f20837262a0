package metrics

import (
	"context"
	"net/http"
)

// Counter 计数器，只增不减，例如后端请求数、缓存命中数
type Counter interface {
	// Inc 加 1
	Inc(ctx context.Context, labels ...Label)
	// Add 增加指定值，val 必须非负
	Add(ctx context.Context, val float64, labels ...Label)
}

// Gauge 仪表盘，可增可减，例如熔断器状态、进行中的请求数
type Gauge interface {
	Set(ctx context.Context, val float64, labels ...Label)
	Inc(ctx context.Context, labels ...Label)
	Dec(ctx context.Context, labels ...Label)
}

// Histogram 直方图，记录耗时等分布
type Histogram interface {
	Record(ctx context.Context, val float64, labels ...Label)
}

// Meter 指标工厂
type Meter interface {
	Counter(name string, desc string, opts ...MetricOption) (Counter, error)
	Gauge(name string, desc string, opts ...MetricOption) (Gauge, error)
	Histogram(name string, desc string, opts ...MetricOption) (Histogram, error)

	// Handler 返回 Prometheus 抓取端点
	Handler() http.Handler

	Shutdown(ctx context.Context) error
}

// MetricOption 指标创建选项
type MetricOption func(*MetricOptions)

// MetricOptions 指标创建参数
type MetricOptions struct {
	Unit    string
	Buckets []float64
}

// WithUnit 设置单位，例如 "s"
func WithUnit(unit string) MetricOption {
	return func(o *MetricOptions) {
		o.Unit = unit
	}
}

// WithBuckets 设置直方图桶边界
func WithBuckets(buckets []float64) MetricOption {
	return func(o *MetricOptions) {
		o.Buckets = append([]float64(nil), buckets...)
	}
}

// Label 指标标签。标签值应当是低基数的，用户 ID、请求 ID 不能作为标签。
type Label struct {
	Key   string
	Value string
}

// L 便捷构造 Label
func L(key, value string) Label {
	return Label{Key: key, Value: value}
}
