package aggregate

const (
	// MetricRequestsTotal 聚合请求数 (Counter)，标签: plan, outcome(success|partial|error)
	MetricRequestsTotal = "bff_aggregate_requests_total"

	// MetricDuration 聚合耗时 (Histogram)，标签: plan
	MetricDuration = "bff_aggregate_duration_seconds"

	// MetricPartialSections 降级区块数 (Counter)，标签: plan, section
	MetricPartialSections = "bff_aggregate_partial_sections_total"
)

const (
	outcomeSuccess = "success"
	outcomePartial = "partial"
	outcomeError   = "error"
)

var durationBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
