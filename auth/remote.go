package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ceyewan/bff/clog"
	"github.com/ceyewan/bff/xerrors"
)

type remoteExtractor struct {
	baseExtractor
	verifier Verifier
}

func (e *remoteExtractor) Extract(ctx context.Context, r *http.Request) (*Principal, error) {
	p, err := e.extract(ctx, r)
	e.record(ctx, SourceRemote, err)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindUnauthenticated {
			e.logger.DebugContext(ctx, "session rejected", clog.Error(err))
		} else {
			e.logger.WarnContext(ctx, "auth service unavailable for session check", clog.Error(err))
		}
		return nil, err
	}
	return p, nil
}

func (e *remoteExtractor) extract(ctx context.Context, r *http.Request) (*Principal, error) {
	token, isBearer := e.credentials(r)
	cookie := r.Header.Get("Cookie")
	if token == "" && cookie == "" {
		return nil, ErrMissingToken
	}

	bearer := ""
	if isBearer {
		bearer = token
	}
	status, body, err := e.verifier.Me(ctx, cookie, bearer)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, ErrSessionRejected
	}
	if status < 200 || status >= 300 {
		return nil, xerrors.WithKind(
			xerrors.Errorf("auth: /auth/me returned %d", status),
			xerrors.KindUpstreamUnavailable)
	}

	userID, scopes, err := parseIdentity(body)
	if err != nil {
		return nil, xerrors.Wrapf(ErrSessionRejected, "%v", err)
	}
	return &Principal{
		UserID: userID,
		Scopes: scopes,
		Source: SourceRemote,
		Token:  token,
		Cookie: cookie,
	}, nil
}

// parseIdentity 解析 /auth/me 的响应体。
// 支持 {"user_id":..}、{"id":..}、{"sub":..} 以及外层包一层 "user" 的形式。
func parseIdentity(body []byte) (string, []string, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", nil, xerrors.Wrap(err, "decode identity")
	}
	if user, ok := doc["user"].(map[string]any); ok {
		doc = user
	}

	var userID string
	for _, k := range []string{"user_id", "id", "sub"} {
		if id := stringify(doc[k]); id != "" {
			userID = id
			break
		}
	}
	if userID == "" {
		return "", nil, xerrors.New("identity has no user id")
	}

	var scopes []string
	for _, k := range []string{"scopes", "roles"} {
		if list, ok := doc[k].([]any); ok {
			for _, v := range list {
				if s := stringify(v); s != "" {
					scopes = append(scopes, s)
				}
			}
			break
		}
	}
	return userID, scopes, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return ""
	}
}
