package ratelimit

const (
	// MetricRequestsTotal 限流检查次数 (Counter)，标签: mode, result(allowed|denied|error)
	MetricRequestsTotal = "bff_ratelimit_requests_total"

	// LabelMode 模式标签 (standalone/distributed)
	LabelMode = "mode"
)

const (
	resultAllowed = "allowed"
	resultDenied  = "denied"
	resultError   = "error"
)
