package trace

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// MessagingMeta 消息 Span 的标准属性
type MessagingMeta struct {
	System      string
	Destination string
	Operation   string
}

func (m MessagingMeta) attributes(extra ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(extra)+3)
	if m.System != "" {
		out = append(out, attribute.String(AttrMessagingSystem, m.System))
	}
	if m.Destination != "" {
		out = append(out, attribute.String(AttrMessagingDestination, m.Destination))
	}
	if m.Operation != "" {
		out = append(out, attribute.String(AttrMessagingOperation, m.Operation))
	}
	return append(out, extra...)
}

func tracerOrDefault(tracer oteltrace.Tracer) oteltrace.Tracer {
	if tracer == nil {
		return otel.Tracer("github.com/ceyewan/bff/trace")
	}
	return tracer
}

// StartProducerSpan 启动生产者 Span，并返回注入了上下文的 headers
func StartProducerSpan(ctx context.Context, tracer oteltrace.Tracer, meta MessagingMeta, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span, map[string]string) {
	spanCtx, span := tracerOrDefault(tracer).Start(ctx, SpanNamePublish(meta.Destination),
		oteltrace.WithSpanKind(oteltrace.SpanKindProducer))
	span.SetAttributes(meta.attributes(attrs...)...)

	headers := map[string]string{}
	Inject(spanCtx, headers)
	return spanCtx, span, headers
}

// StartConsumerSpan 启动消费者 Span，通过 Span Link 关联上游生产者。
//
// 失效消息是广播，消费方与发布方没有父子关系。
func StartConsumerSpan(ctx context.Context, tracer oteltrace.Tracer, headers map[string]string, meta MessagingMeta, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	opts := []oteltrace.SpanStartOption{oteltrace.WithSpanKind(oteltrace.SpanKindConsumer)}
	if len(headers) > 0 {
		if remote := oteltrace.SpanContextFromContext(Extract(ctx, headers)); remote.IsValid() {
			opts = append(opts, oteltrace.WithLinks(oteltrace.Link{SpanContext: remote}))
		}
	}

	spanCtx, span := tracerOrDefault(tracer).Start(ctx, SpanNameProcess(meta.Destination), opts...)
	span.SetAttributes(meta.attributes(attrs...)...)
	return spanCtx, span
}

// MarkSpanError err 不为 nil 时记录错误并设置 Span 状态
func MarkSpanError(span oteltrace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
