package backend

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ceyewan/bff/xerrors"
)

// Request 出站请求
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header
	Body   []byte
}

// Get 便捷构造 GET 请求
func Get(path string) Request {
	return Request{Method: http.MethodGet, Path: path}
}

func (r Request) idempotent() bool {
	switch r.Method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// Status 调用结果的类型
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// 失败原因
const (
	ReasonCircuitOpen       = "CircuitOpen"
	ReasonTimeout           = "Timeout"
	ReasonCanceled          = "Canceled"
	ReasonConnectionRefused = "ConnectionRefused"
	ReasonConnectionError   = "ConnectionError"
	ReasonServerError       = "ServerError"
	ReasonRejected          = "Rejected"
	ReasonInvalidRequest    = "InvalidRequest"
	ReasonBodyTooLarge      = "BodyTooLarge"
)

// Meta 调用的元数据
type Meta struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Attempts    int
	Duration    time.Duration
	FromCache   bool
}

// Outcome 一次后端调用的结果：Success、Failure 或 Skipped。
//
// Failure 时 Kind 为错误分类，Reason 为更细的原因（例如 CircuitOpen）。
// UpstreamRejected 的 Payload 与 Meta 保留后端原始响应，供透传使用。
type Outcome struct {
	Status  Status
	Payload []byte
	Meta    Meta

	Kind   xerrors.Kind
	Reason string
	Detail string
}

// Success 成功结果
func Success(payload []byte, meta Meta) Outcome {
	return Outcome{Status: StatusSuccess, Payload: payload, Meta: meta}
}

// Failure 失败结果
func Failure(kind xerrors.Kind, reason, detail string) Outcome {
	return Outcome{Status: StatusFailure, Kind: kind, Reason: reason, Detail: detail}
}

// Skipped 未发起的调用
func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Reason: reason}
}

func (o Outcome) OK() bool { return o.Status == StatusSuccess }

// Err 失败时返回带 Kind 的错误，其余情况返回 nil
func (o Outcome) Err() error {
	if o.Status != StatusFailure {
		return nil
	}
	msg := o.Reason + ": " + o.Detail
	switch o.Kind {
	case xerrors.KindUpstreamRejected:
		return xerrors.Rejected(xerrors.New(msg), o.Meta.StatusCode)
	case xerrors.KindUpstreamTimeout:
		return xerrors.WithKind(xerrors.Wrap(xerrors.ErrTimeout, msg), o.Kind)
	case xerrors.KindUpstreamUnavailable:
		return xerrors.WithKind(xerrors.Wrap(xerrors.ErrUnavailable, msg), o.Kind)
	}
	return xerrors.WithKind(xerrors.New(msg), o.Kind)
}

func (o Outcome) String() string {
	switch o.Status {
	case StatusFailure:
		return fmt.Sprintf("failure(%s, %s)", o.Kind, o.Reason)
	case StatusSkipped:
		return fmt.Sprintf("skipped(%s)", o.Reason)
	default:
		return fmt.Sprintf("success(%d)", o.Meta.StatusCode)
	}
}
