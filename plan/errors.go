package plan

import "github.com/ceyewan/bff/xerrors"

var (
	// ErrUnknownPlan 没有对应的计划
	ErrUnknownPlan = xerrors.WithKind(xerrors.Wrap(xerrors.ErrNotFound, "plan: unknown plan"), xerrors.KindNotFound)

	// ErrInvalidPlan 计划校验失败
	ErrInvalidPlan = xerrors.New("plan: invalid plan")

	// ErrInvalidPayload 后端返回的不是合法 JSON
	ErrInvalidPayload = xerrors.New("plan: payload is not valid json")
)
