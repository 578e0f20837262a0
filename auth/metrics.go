package auth

const (
	// MetricExtractionsTotal Principal 提取次数，标签: source, result
	MetricExtractionsTotal = "bff_auth_extractions_total"

	// MetricServiceTokensTotal 签发的服务令牌数，标签: backend
	MetricServiceTokensTotal = "bff_auth_service_tokens_total"
)
