package auth

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceyewan/bff/xerrors"
)

const testSecret = "this-is-a-valid-secret-key-at-least-32-chars"

func signToken(t *testing.T, claims *Claims, secret string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func userClaims(sub string, exp time.Time) *Claims {
	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Scope: "tasks:read tasks:write",
	}
}

func newJWTExtractor(t *testing.T) Extractor {
	t.Helper()
	ex, err := NewExtractor(&Config{Mode: ModeJWT, JWTSecret: testSecret})
	require.NoError(t, err)
	return ex
}

func TestNewExtractor(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		opts    []Option
		wantErr error
	}{
		{name: "nil config", cfg: nil, wantErr: ErrInvalidConfig},
		{name: "jwt without secret", cfg: &Config{Mode: ModeJWT}, wantErr: ErrInvalidConfig},
		{name: "unknown mode", cfg: &Config{Mode: "oauth"}, wantErr: ErrInvalidConfig},
		{name: "remote without verifier", cfg: &Config{Mode: ModeRemote}, wantErr: ErrInvalidConfig},
		{name: "jwt", cfg: &Config{Mode: ModeJWT, JWTSecret: testSecret}},
		{name: "remote", cfg: &Config{}, opts: []Option{WithVerifier(&fakeVerifier{})}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex, err := NewExtractor(tt.cfg, tt.opts...)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, ex)
				return
			}
			assert.NoError(t, err)
			assert.NotNil(t, ex)
		})
	}
}

func TestJWTExtractor(t *testing.T) {
	ex := newJWTExtractor(t)
	valid := signToken(t, userClaims("42", time.Now().Add(time.Hour)), testSecret)

	t.Run("cookie", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "access_token", Value: valid})

		p, err := ex.Extract(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "42", p.UserID)
		assert.Equal(t, []string{"tasks:read", "tasks:write"}, p.Scopes)
		assert.Equal(t, SourceJWT, p.Source)
		assert.Equal(t, valid, p.Token)
		assert.Contains(t, p.Cookie, "access_token=")
		assert.True(t, p.Authenticated())
	})

	t.Run("bearer", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+valid)

		p, err := ex.Extract(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "42", p.UserID)
	})

	t.Run("user_id claim", func(t *testing.T) {
		claims := &Claims{UserID: "u-7", Scopes: []string{"admin"}}
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer "+signToken(t, claims, testSecret))

		p, err := ex.Extract(context.Background(), r)
		require.NoError(t, err)
		assert.Equal(t, "u-7", p.UserID)
		assert.True(t, p.HasScope("admin"))
	})

	failures := []struct {
		name    string
		setup   func(r *http.Request)
		wantErr error
	}{
		{
			name:    "missing",
			setup:   func(*http.Request) {},
			wantErr: ErrMissingToken,
		},
		{
			name: "expired",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, userClaims("42", time.Now().Add(-time.Hour)), testSecret))
			},
			wantErr: ErrExpiredToken,
		},
		{
			name: "wrong secret",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, userClaims("42", time.Now().Add(time.Hour)), "another-secret-another-secret-xx"))
			},
			wantErr: ErrInvalidSignature,
		},
		{
			name: "garbage",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer not-a-jwt")
			},
			wantErr: ErrInvalidToken,
		},
		{
			name: "no subject",
			setup: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer "+signToken(t, &Claims{}, testSecret))
			},
			wantErr: ErrInvalidToken,
		},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)

			p, err := ex.Extract(context.Background(), r)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, xerrors.KindUnauthenticated, xerrors.KindOf(err))
			assert.Equal(t, http.StatusUnauthorized, xerrors.StatusOf(err))
		})
	}
}

type fakeVerifier struct {
	status int
	body   string
	err    error

	gotCookie string
	gotBearer string
	calls     int
}

func (f *fakeVerifier) Me(_ context.Context, cookie, bearer string) (int, []byte, error) {
	f.calls++
	f.gotCookie, f.gotBearer = cookie, bearer
	return f.status, []byte(f.body), f.err
}

func TestRemoteExtractor(t *testing.T) {
	newRequest := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "session", Value: "opaque"})
		return r
	}

	t.Run("nested user", func(t *testing.T) {
		v := &fakeVerifier{status: 200, body: `{"user":{"id":17,"roles":["member"]}}`}
		ex, err := NewExtractor(&Config{}, WithVerifier(v))
		require.NoError(t, err)

		p, err := ex.Extract(context.Background(), newRequest())
		require.NoError(t, err)
		assert.Equal(t, "17", p.UserID)
		assert.Equal(t, []string{"member"}, p.Scopes)
		assert.Equal(t, SourceRemote, p.Source)
		assert.Equal(t, "session=opaque", v.gotCookie)
		assert.Empty(t, v.gotBearer)
	})

	t.Run("flat user_id", func(t *testing.T) {
		v := &fakeVerifier{status: 200, body: `{"user_id":"abc","email":"a@b.c"}`}
		ex, _ := NewExtractor(&Config{}, WithVerifier(v))

		p, err := ex.Extract(context.Background(), newRequest())
		require.NoError(t, err)
		assert.Equal(t, "abc", p.UserID)
	})

	t.Run("rejected", func(t *testing.T) {
		ex, _ := NewExtractor(&Config{}, WithVerifier(&fakeVerifier{status: 401, body: `{"error":"no session"}`}))

		_, err := ex.Extract(context.Background(), newRequest())
		assert.ErrorIs(t, err, ErrSessionRejected)
		assert.Equal(t, xerrors.KindUnauthenticated, xerrors.KindOf(err))
	})

	t.Run("auth service unavailable keeps its kind", func(t *testing.T) {
		down := xerrors.WithKind(xerrors.New("circuit open"), xerrors.KindUpstreamUnavailable)
		ex, _ := NewExtractor(&Config{}, WithVerifier(&fakeVerifier{err: down}))

		_, err := ex.Extract(context.Background(), newRequest())
		assert.Equal(t, xerrors.KindUpstreamUnavailable, xerrors.KindOf(err))
	})

	t.Run("server error", func(t *testing.T) {
		ex, _ := NewExtractor(&Config{}, WithVerifier(&fakeVerifier{status: 500}))

		_, err := ex.Extract(context.Background(), newRequest())
		assert.Equal(t, xerrors.KindUpstreamUnavailable, xerrors.KindOf(err))
	})

	t.Run("no credentials", func(t *testing.T) {
		v := &fakeVerifier{status: 200, body: `{"id":"1"}`}
		ex, _ := NewExtractor(&Config{}, WithVerifier(v))

		_, err := ex.Extract(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
		assert.ErrorIs(t, err, ErrMissingToken)
		assert.Zero(t, v.calls)
	})

	t.Run("identity without id", func(t *testing.T) {
		ex, _ := NewExtractor(&Config{}, WithVerifier(&fakeVerifier{status: 200, body: `{"email":"x"}`}))

		_, err := ex.Extract(context.Background(), newRequest())
		assert.Equal(t, xerrors.KindUnauthenticated, xerrors.KindOf(err))
	})
}

func TestPropagator(t *testing.T) {
	now := time.Now()
	prop, err := NewPropagator(&Config{JWTSecret: testSecret}, WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	principal := &Principal{
		UserID: "42",
		Scopes: []string{"tasks:read"},
		Source: SourceJWT,
		Token:  "session-token",
		Cookie: "access_token=session-token; theme=dark",
	}

	t.Run("forward", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://app/app/tasks", nil)
		require.NoError(t, prop.Attach(req, principal, Target{Backend: "app", Mode: CredentialForward}))

		assert.Equal(t, principal.Cookie, req.Header.Get("Cookie"))
		assert.Equal(t, "Bearer session-token", req.Header.Get("Authorization"))
	})

	t.Run("default mode forwards", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://app/app/tasks", nil)
		require.NoError(t, prop.Attach(req, principal, Target{Backend: "app"}))
		assert.Equal(t, principal.Cookie, req.Header.Get("Cookie"))
	})

	t.Run("service token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://reports/summary", nil)
		req.Header.Set("Cookie", "leaked=1")
		require.NoError(t, prop.Attach(req, principal, Target{Backend: "reports", Mode: CredentialServiceToken}))

		assert.Empty(t, req.Header.Get("Cookie"))
		bearer := req.Header.Get("Authorization")
		require.Contains(t, bearer, "Bearer ")

		claims, err := ParseServiceToken(bearer[len("Bearer "):], testSecret, "reports")
		require.NoError(t, err)
		assert.Equal(t, "42", claims.Subject)
		assert.Equal(t, "tasks:read", claims.Scope)
		assert.Equal(t, "bff", claims.Issuer)
		assert.Equal(t, now.Add(time.Minute).Unix(), claims.ExpiresAt.Unix())

		_, err = ParseServiceToken(bearer[len("Bearer "):], testSecret, "app")
		assert.Error(t, err)
	})

	t.Run("service token for anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://reports/summary", nil)
		require.NoError(t, prop.Attach(req, Anonymous(""), Target{Backend: "reports", Mode: CredentialServiceToken}))
		assert.Empty(t, req.Header.Get("Authorization"))
	})

	t.Run("none", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://public/health", nil)
		req.Header.Set("Authorization", "Bearer x")
		require.NoError(t, prop.Attach(req, principal, Target{Backend: "public", Mode: CredentialNone}))
		assert.Empty(t, req.Header.Get("Authorization"))
	})

	t.Run("unknown mode", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "http://x/", nil)
		assert.ErrorIs(t, prop.Attach(req, principal, Target{Backend: "x", Mode: "kerberos"}), ErrInvalidConfig)
	})

	t.Run("missing secret", func(t *testing.T) {
		p, err := NewPropagator(&Config{})
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "http://x/", nil)
		assert.ErrorIs(t, p.Attach(req, principal, Target{Backend: "x", Mode: CredentialServiceToken}), ErrInvalidConfig)
	})
}

func TestPrincipalLogValueRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("call", slog.Any("principal", &Principal{
		UserID: "42",
		Scopes: []string{"a", "b"},
		Source: SourceJWT,
		Token:  "super-secret-token",
		Cookie: "access_token=super-secret-token",
	}))

	out := buf.String()
	assert.Contains(t, out, `"user_id":"42"`)
	assert.Contains(t, out, `"scopes":"a,b"`)
	assert.NotContains(t, out, "super-secret-token")
}

func TestGinMiddlewareAndResolve(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ex := newJWTExtractor(t)
	valid := signToken(t, userClaims("42", time.Now().Add(time.Hour)), testSecret)

	var (
		gotUser string
		gotErr  error
	)
	r := gin.New()
	r.Use(GinMiddleware(ex))
	r.GET("/who", func(c *gin.Context) {
		p, err := Resolve(c.Request.Context(), ex, c.Request)
		gotErr = err
		if p != nil {
			gotUser = p.UserID
		}
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer "+valid)
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.NoError(t, gotErr)
	assert.Equal(t, "42", gotUser)

	gotUser = ""
	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer broken")
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.ErrorIs(t, gotErr, ErrInvalidToken)
	assert.Empty(t, gotUser)

	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.ErrorIs(t, gotErr, ErrMissingToken)
}

func TestGinMiddlewareOnlyProtectedPaths(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := &fakeVerifier{status: 200, body: `{"id":"carol"}`}
	ex, err := NewExtractor(&Config{}, WithVerifier(v))
	require.NoError(t, err)

	var gotUser string
	r := gin.New()
	r.Use(GinMiddleware(ex, "/bff/app/", "/bff/aggregate/"))
	handler := func(c *gin.Context) {
		gotUser = ""
		if p, ok := FromContext(c.Request.Context()); ok {
			gotUser = p.UserID
		}
		c.Status(http.StatusNoContent)
	}
	r.GET("/health/liveness", handler)
	r.GET("/bff/app/*path", handler)
	r.OPTIONS("/bff/app/*path", handler)

	send := func(method, target string) {
		req := httptest.NewRequest(method, target, nil)
		req.AddCookie(&http.Cookie{Name: "access_token", Value: "x"})
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	t.Run("健康检查不调用认证服务", func(t *testing.T) {
		send(http.MethodGet, "/health/liveness")
		assert.Zero(t, v.calls)
		assert.Empty(t, gotUser)
	})

	t.Run("CORS 预检不调用认证服务", func(t *testing.T) {
		send(http.MethodOptions, "/bff/app/tasks")
		assert.Zero(t, v.calls)
	})

	t.Run("受保护路径提取身份", func(t *testing.T) {
		send(http.MethodGet, "/bff/app/tasks")
		assert.Equal(t, 1, v.calls)
		assert.Equal(t, "carol", gotUser)
	})
}
