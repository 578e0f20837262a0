package backend

const (
	// MetricRequestsTotal 后端调用次数 (Counter)，标签: backend, outcome
	MetricRequestsTotal = "bff_backend_requests_total"

	// MetricRequestDuration 后端调用耗时 (Histogram)，包含重试，标签: backend
	MetricRequestDuration = "bff_backend_request_duration_seconds"

	// MetricRequestsInFlight 进行中的后端调用 (Gauge)，标签: backend
	MetricRequestsInFlight = "bff_backend_requests_in_flight"

	// MetricRetriesTotal 重试次数 (Counter)，标签: backend
	MetricRetriesTotal = "bff_backend_retries_total"
)

var durationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
