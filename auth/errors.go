package auth

import "github.com/ceyewan/bff/xerrors"

// 所有令牌错误都带 KindUnauthenticated
var (
	ErrMissingToken     = xerrors.WithKind(xerrors.New("auth: missing token"), xerrors.KindUnauthenticated)
	ErrInvalidToken     = xerrors.WithKind(xerrors.New("auth: invalid token"), xerrors.KindUnauthenticated)
	ErrExpiredToken     = xerrors.WithKind(xerrors.New("auth: token expired"), xerrors.KindUnauthenticated)
	ErrInvalidSignature = xerrors.WithKind(xerrors.New("auth: invalid signature"), xerrors.KindUnauthenticated)
	ErrSessionRejected  = xerrors.WithKind(xerrors.New("auth: session rejected by auth service"), xerrors.KindUnauthenticated)

	ErrInvalidConfig = xerrors.New("auth: invalid config")
)
