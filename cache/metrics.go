package cache

const (
	// MetricRequestsTotal 缓存读取次数 (Counter)，result=hit|miss
	MetricRequestsTotal = "bff_cache_requests_total"

	// MetricErrorsTotal 驱动错误次数 (Counter)，operation=get|put|invalidate
	MetricErrorsTotal = "bff_cache_errors_total"

	// MetricInvalidationsTotal 失效广播次数 (Counter)，direction=published|applied
	MetricInvalidationsTotal = "bff_cache_invalidations_total"
)

const (
	resultHit  = "hit"
	resultMiss = "miss"

	labelDirection = "direction"
)
