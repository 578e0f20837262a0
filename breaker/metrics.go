package breaker

const (
	// MetricState 熔断器状态 (Gauge)：0 closed / 1 half_open / 2 open
	MetricState = "bff_circuit_breaker_state"

	// MetricRejectedTotal 被熔断拒绝的调用数 (Counter)
	MetricRejectedTotal = "bff_circuit_breaker_rejected_total"

	// MetricTransitionsTotal 状态变更次数 (Counter)
	MetricTransitionsTotal = "bff_circuit_breaker_transitions_total"
)
