package cache

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/metrics"
	"github.com/ceyewan/bff/trace"
	"github.com/ceyewan/bff/xerrors"
)

// DefaultSubject 失效广播的默认 NATS Subject
const DefaultSubject = "bff.cache.invalidate"

// Transport 广播通道
type Transport interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func() error, err error)
}

type natsTransport struct {
	conn *nats.Conn
}

// NATSTransport 基于 NATS core pub/sub 的广播通道
func NATSTransport(conn *nats.Conn) Transport {
	return &natsTransport{conn: conn}
}

func (t *natsTransport) Publish(subject string, data []byte) error {
	return t.conn.Publish(subject, data)
}

func (t *natsTransport) Subscribe(subject string, handler func([]byte)) (func() error, error) {
	sub, err := t.conn.Subscribe(subject, func(m *nats.Msg) {
		handler(m.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

// invalidation 广播消息
type invalidation struct {
	Origin  string            `json:"origin"`
	Prefix  string            `json:"prefix"`
	Headers map[string]string `json:"headers,omitempty"`
}

// Bus 在多个 BFF 副本之间传播前缀失效。
//
// 本副本发出的消息带 origin，收到自己的消息时忽略。
type Bus struct {
	local     Cache
	transport Transport
	subject   string
	origin    string

	logger clog.Logger
	tracer oteltrace.Tracer
	events metrics.Counter

	mu    sync.Mutex
	unsub func() error
}

// NewBus 创建失效广播总线，subject 为空时使用 DefaultSubject
func NewBus(local Cache, transport Transport, subject string, opts ...Option) (*Bus, error) {
	if local == nil || transport == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidInput, "cache: bus requires a local cache and a transport")
	}
	if subject == "" {
		subject = DefaultSubject
	}

	o := applyOptions(opts)
	return &Bus{
		local:     local,
		transport: transport,
		subject:   subject,
		origin:    uuid.NewString(),
		logger:    o.logger.With(clog.String("subject", subject)),
		tracer:    otel.Tracer("github.com/ceyewan/bff/cache"),
		events:    counterOrDiscard(o.meter, MetricInvalidationsTotal, "Cache invalidation broadcasts"),
	}, nil
}

// Start 订阅远端失效消息，可重复调用
func (b *Bus) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsub != nil {
		return nil
	}
	unsub, err := b.transport.Subscribe(b.subject, b.handle)
	if err != nil {
		return xerrors.Wrapf(err, "cache: subscribe %s", b.subject)
	}
	b.unsub = unsub
	b.logger.Info("cache invalidation bus started")
	return nil
}

// InvalidatePrefix 失效本地缓存并广播给其他副本。
// 广播失败只记录日志，本地失效已经生效。
func (b *Bus) InvalidatePrefix(ctx context.Context, prefix string) error {
	if err := b.local.InvalidatePrefix(ctx, prefix); err != nil {
		return err
	}

	ctx, span, headers := trace.StartProducerSpan(ctx, b.tracer, trace.MessagingMeta{
		System:      trace.MessagingSystemNATS,
		Destination: b.subject,
		Operation:   trace.MessagingOperationPublish,
	}, attribute.String("cache.prefix", prefix))
	defer span.End()

	data, err := json.Marshal(invalidation{Origin: b.origin, Prefix: prefix, Headers: headers})
	if err == nil {
		err = b.transport.Publish(b.subject, data)
	}
	if err != nil {
		trace.MarkSpanError(span, err)
		b.logger.WarnContext(ctx, "failed to publish cache invalidation",
			clog.String("prefix", prefix), clog.Error(err))
		return nil
	}

	b.events.Inc(ctx, metrics.L(labelDirection, "published"))
	return nil
}

func (b *Bus) handle(data []byte) {
	var msg invalidation
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("malformed cache invalidation", clog.Error(err))
		return
	}
	if msg.Origin == b.origin || msg.Prefix == "" {
		return
	}

	ctx, span := trace.StartConsumerSpan(context.Background(), b.tracer, msg.Headers, trace.MessagingMeta{
		System:      trace.MessagingSystemNATS,
		Destination: b.subject,
		Operation:   trace.MessagingOperationProcess,
	}, attribute.String("cache.prefix", msg.Prefix))
	defer span.End()

	if err := b.local.InvalidatePrefix(ctx, msg.Prefix); err != nil {
		trace.MarkSpanError(span, err)
		b.logger.WarnContext(ctx, "failed to apply remote invalidation",
			clog.String("prefix", msg.Prefix), clog.Error(err))
		return
	}
	b.events.Inc(ctx, metrics.L(labelDirection, "applied"))
	b.logger.DebugContext(ctx, "remote invalidation applied", clog.String("prefix", msg.Prefix))
}

// Close 取消订阅，不关闭本地缓存与连接
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unsub == nil {
		return nil
	}
	err := b.unsub()
	b.unsub = nil
	return err
}
