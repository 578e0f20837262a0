package aggregate

import (
	"fmt"

	"github.com/ceyewan/bff/xerrors"
)

// Error 聚合失败。Cause 上带有 xerrors.Kind，HTTP 层据此决定状态码。
type Error struct {
	Plan    string
	Section string
	Kind    xerrors.Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("aggregate %s: section %s: %v", e.Plan, e.Section, e.Cause)
	}
	return fmt.Sprintf("aggregate %s: %v", e.Plan, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// PublicMessage 对外消息，不含后端地址等细节
func (e *Error) PublicMessage() string { return e.Message }

func newError(plan, section string, cause error, msg string) *Error {
	return &Error{
		Plan:    plan,
		Section: section,
		Kind:    xerrors.KindOf(cause),
		Message: msg,
		Cause:   cause,
	}
}
