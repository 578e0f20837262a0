package xerrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 是聚合引擎对调用方暴露的错误分类。
type Kind string

const (
	KindUnauthenticated          Kind = "Unauthenticated"
	KindUpstreamTimeout          Kind = "UpstreamTimeout"
	KindUpstreamUnavailable      Kind = "UpstreamUnavailable"
	KindUpstreamRejected         Kind = "UpstreamRejected"
	KindPartialFailure           Kind = "PartialFailure"
	KindAggregateTimeout         Kind = "AggregateTimeout"
	KindInternalCompositionError Kind = "InternalCompositionError"
	KindRateLimited              Kind = "RateLimited"
	KindNotFound                 Kind = "NotFound"
)

// HTTPStatus 返回 Kind 对应的 HTTP 状态码。
//
// UpstreamRejected 由后端状态码决定，这里只给出兜底值 400。
func (k Kind) HTTPStatus() int {
	switch k {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUpstreamTimeout, KindAggregateTimeout:
		return http.StatusGatewayTimeout
	case KindUpstreamUnavailable:
		return http.StatusBadGateway
	case KindUpstreamRejected:
		return http.StatusBadRequest
	case KindPartialFailure:
		return http.StatusOK
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// KindError 为错误附加 Kind 和可选的上游状态码。
type KindError struct {
	Kind   Kind
	Status int // 上游状态码，仅 UpstreamRejected 使用
	Cause  error
}

func (e *KindError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	}
	return string(e.Kind)
}

func (e *KindError) Unwrap() error {
	return e.Cause
}

// WithKind 用 Kind 包装错误。err 为 nil 时以 Kind 名称作为错误消息。
func WithKind(err error, kind Kind) error {
	if err == nil {
		err = errors.New(string(kind))
	}
	return &KindError{Kind: kind, Cause: err}
}

// Rejected 构造带上游状态码的 UpstreamRejected 错误。
func Rejected(err error, status int) error {
	if err == nil {
		err = fmt.Errorf("upstream rejected with status %d", status)
	}
	return &KindError{Kind: KindUpstreamRejected, Status: status, Cause: err}
}

// KindOf 提取错误链上最外层的 Kind，没有时返回 InternalCompositionError。
func KindOf(err error) Kind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternalCompositionError
}

// StatusOf 返回错误应映射的 HTTP 状态码。
func StatusOf(err error) int {
	var ke *KindError
	if !errors.As(err, &ke) {
		return http.StatusInternalServerError
	}
	if ke.Kind == KindUpstreamRejected && ke.Status >= 400 && ke.Status < 500 {
		return ke.Status
	}
	return ke.Kind.HTTPStatus()
}

// Public 可以原样展示给调用方的错误
type Public interface {
	PublicMessage() string
}

// Body 错误响应体
type Body struct {
	Error string `json:"error"`
	Kind  Kind   `json:"kind"`
}

// Response 返回错误对应的状态码与响应体。
// 只有实现 Public 且消息非空的错误会暴露自己的消息，InternalCompositionError 永远使用固定消息。
func Response(err error) (int, Body) {
	kind := KindOf(err)
	msg := defaultMessage(kind)
	var p Public
	if kind != KindInternalCompositionError && errors.As(err, &p) && p.PublicMessage() != "" {
		msg = p.PublicMessage()
	}
	return StatusOf(err), Body{Error: msg, Kind: kind}
}

func defaultMessage(kind Kind) string {
	switch kind {
	case KindUnauthenticated:
		return "authentication required"
	case KindUpstreamTimeout:
		return "upstream service timed out"
	case KindUpstreamUnavailable:
		return "upstream service unavailable"
	case KindUpstreamRejected:
		return "request rejected by upstream service"
	case KindAggregateTimeout:
		return "aggregate request timed out"
	case KindRateLimited:
		return "rate limit exceeded"
	case KindNotFound:
		return "not found"
	default:
		return "internal error"
	}
}
