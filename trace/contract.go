package trace

// Messaging 语义属性键
const (
	AttrMessagingSystem      = "messaging.system"
	AttrMessagingDestination = "messaging.destination"
	AttrMessagingOperation   = "messaging.operation"
)

const MessagingSystemNATS = "nats"

const (
	MessagingOperationPublish = "publish"
	MessagingOperationProcess = "process"
)

// SpanNamePublish 发布消息的 Span 名称
func SpanNamePublish(destination string) string {
	if destination == "" {
		return "publish"
	}
	return "publish " + destination
}

// SpanNameProcess 处理消息的 Span 名称
func SpanNameProcess(destination string) string {
	if destination == "" {
		return "process"
	}
	return "process " + destination
}
