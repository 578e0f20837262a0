// Package xerrors 是 BFF 各组件共用的错误工具。
//
// 组件内部用 Wrap/Wrapf 附加上下文，用哨兵错误表达原因；
// 离开组件、要写回客户端时再用 WithKind 标上分类（见 kind.go），
// HTTP 层只看 Kind 决定状态码与响应体。
//
//	err := xerrors.Wrapf(xerrors.ErrTimeout, "backend %s", d.ID)
//	err = xerrors.WithKind(err, xerrors.KindUpstreamTimeout)
//	status, body := xerrors.Response(err) // 504
package xerrors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound 计划、路由等资源不存在
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput 配置或调用参数非法，启动阶段返回
	ErrInvalidInput = errors.New("invalid input")
	// ErrUnavailable 后端或依赖不可达
	ErrUnavailable = errors.New("unavailable")
	// ErrTimeout 后端在单次尝试的超时内没有响应
	ErrTimeout = errors.New("timeout")
)

// Wrap 在 err 前加上 msg，err 为 nil 时返回 nil
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: msg, cause: err}
}

// Wrapf 同 Wrap，msg 由 format 生成
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrapped{msg: fmt.Sprintf(format, args...), cause: err}
}

type wrapped struct {
	msg   string
	cause error
}

func (w *wrapped) Error() string { return w.msg + ": " + w.cause.Error() }
func (w *wrapped) Unwrap() error { return w.cause }

// CodedError 携带机器可读的错误码，只用于日志与断言，不进入响应体
type CodedError struct {
	Code  string
	Cause error
}

// WithCode 给 err 附加错误码
func WithCode(err error, code string) error {
	if err == nil {
		return nil
	}
	return &CodedError{Code: code, Cause: err}
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return "[" + e.Code + "]"
	}
	return "[" + e.Code + "] " + e.Cause.Error()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// GetCode 返回错误链上最外层的错误码，没有时为空串
func GetCode(err error) string {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// Collector 逐项校验配置时使用，只保留第一个错误
type Collector struct {
	err error
}

func (c *Collector) Collect(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *Collector) Err() error { return c.err }

// MultiError 关闭阶段多个组件各自返回的错误
type MultiError struct {
	Errors []error
}

func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Unwrap() []error { return m.Errors }

// Combine 丢弃 nil；只剩一个错误时原样返回，多个时返回 *MultiError
func Combine(errs ...error) error {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &MultiError{Errors: kept}
}

// 标准库再导出，调用方只需导入 xerrors
var (
	New    = errors.New
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	Errorf = fmt.Errorf
)
