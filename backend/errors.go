package backend

import "github.com/ceyewan/bff/xerrors"

var (
	ErrInvalidDescriptor = xerrors.New("backend: invalid descriptor")
	ErrUnknownBackend    = xerrors.New("backend: unknown backend")
)
