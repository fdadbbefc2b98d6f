package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(calls *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
}

func serve(t *testing.T, handler http.Handler) *httpexpect.Expect {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return httpexpect.WithConfig(httpexpect.Config{
		BaseURL:  server.URL,
		Reporter: httpexpect.NewRequireReporter(t),
	})
}

func TestMiddlewareHeaders(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	e := serve(t, env.limiter.Middleware(PerIPLimit(2))(okHandler(&calls)))
	reset := strconv.FormatInt(start.Unix()+10, 10)

	for _, remaining := range []string{"1", "0"} {
		resp := e.GET("/").Expect()
		resp.Status(http.StatusOK)
		resp.Header(HeaderRemaining).IsEqual(remaining)
		resp.Header(HeaderLimit).IsEqual("2")
		resp.Header(HeaderReset).IsEqual(reset)
		resp.Header(HeaderResetIn).IsEqual("10")
		resp.Header("Access-Control-Expose-Headers").IsEqual("X-RateLimit-Remaining,X-RateLimit-Limit,X-RateLimit-Reset,X-RateLimit-Reset-In")
	}

	resp := e.GET("/").Expect()
	resp.Status(http.StatusTooManyRequests)
	resp.Header(HeaderRemaining).IsEqual("0")
	resp.Header(HeaderLimit).IsEqual("2")
	resp.Header("Retry-After").IsEqual("10")
	resp.Body().Contains(OverLimitMessage)
	assert.Equal(t, int64(2), calls.Load(), "handler must not run over the limit")
}

func TestMiddlewareScopeIsolation(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.Handle("/a", env.limiter.Middleware(Scope("a"), PerIPLimit(2))(okHandler(&calls)))
	mux.Handle("/b", env.limiter.Middleware(Scope("b"), PerIPLimit(2))(okHandler(&calls)))
	e := serve(t, mux)

	for _, path := range []string{"/a", "/b"} {
		e.GET(path).Expect().Status(http.StatusOK)
		e.GET(path).Expect().Status(http.StatusOK)
	}
	assert.Equal(t, int64(4), calls.Load())
	e.GET("/a").Expect().Status(http.StatusTooManyRequests)
	e.GET("/b").Expect().Status(http.StatusTooManyRequests)
}

func TestMiddlewareSharedScope(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.Handle("/a", env.limiter.Middleware(Scope("shared"), PerIPLimit(2))(okHandler(&calls)))
	mux.Handle("/b", env.limiter.Middleware(Scope("shared"), PerIPLimit(2))(okHandler(&calls)))
	e := serve(t, mux)

	e.GET("/a").Expect().Status(http.StatusOK)
	e.GET("/b").Expect().Status(http.StatusOK)
	e.GET("/a").Expect().Status(http.StatusTooManyRequests)
}

func TestMiddlewareSharedScopePinsFirstLimit(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.Handle("/strict", env.limiter.Middleware(Scope("shared"), PerIPLimit(2))(okHandler(&calls)))
	mux.Handle("/loose", env.limiter.Middleware(Scope("shared"), PerIPLimit(5))(okHandler(&calls)))
	e := serve(t, mux)

	e.GET("/strict").Expect().Status(http.StatusOK).Header(HeaderLimit).IsEqual("2")
	e.GET("/loose").Expect().Status(http.StatusOK).Header(HeaderLimit).IsEqual("2")
	e.GET("/loose").Expect().Status(http.StatusTooManyRequests)

	env.clock.Advance(10 * time.Second)
	e.GET("/loose").Expect().Status(http.StatusOK).Header(HeaderLimit).IsEqual("5")
	e.GET("/strict").Expect().Status(http.StatusOK).Header(HeaderLimit).IsEqual("5")
}

func TestMiddlewareConfigPriority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.limiter.SetRateLimits(ctx, Limits{PerIP: 4}, ""))
	require.NoError(t, env.limiter.SetRateLimits(ctx, Limits{PerIP: 3}, "scoped"))

	var calls atomic.Int64
	mux := http.NewServeMux()
	mux.Handle("/override", env.limiter.Middleware(Scope("scoped"), PerIPLimit(2))(okHandler(&calls)))
	mux.Handle("/scoped", env.limiter.Middleware(Scope("scoped-too"))(okHandler(&calls)))
	mux.Handle("/global", env.limiter.Middleware()(okHandler(&calls)))
	e := serve(t, mux)

	e.GET("/override").Expect().Header(HeaderLimit).IsEqual("2")
	e.GET("/global").Expect().Header(HeaderLimit).IsEqual("4")

	require.NoError(t, env.limiter.SetRateLimits(ctx, Limits{PerIP: 3}, "scoped-too"))
	e.GET("/scoped").Expect().Header(HeaderLimit).IsEqual("3")
}

func TestMiddlewareDefaults(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	e := serve(t, env.limiter.Middleware()(okHandler(&calls)))
	e.GET("/").Expect().Header(HeaderLimit).IsEqual(strconv.Itoa(DefaultPerIPLimit))
}

func TestMiddlewareTokenScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.limiter.SetRateLimits(ctx, Limits{PerToken: 5, PerIP: 3, Window: 10 * time.Second}, ""))

	var calls atomic.Int64
	e := serve(t, env.limiter.Middleware()(okHandler(&calls)))

	for _, remaining := range []string{"2", "1", "0"} {
		resp := e.GET("/").Expect()
		resp.Status(http.StatusOK)
		resp.Header(HeaderRemaining).IsEqual(remaining)
	}
	e.GET("/").Expect().Status(http.StatusTooManyRequests)

	// Without a validator the header is ignored.
	e.GET("/").WithHeader("Authorization", "Token 4fe2d1").Expect().Status(http.StatusTooManyRequests)

	env.limiter.SetUserValidation(func(_ context.Context, token string) bool {
		return token == "4fe2d1"
	})
	for _, remaining := range []string{"4", "3", "2", "1", "0"} {
		resp := e.GET("/").WithHeader("Authorization", "Token 4fe2d1").Expect()
		resp.Status(http.StatusOK)
		resp.Header(HeaderLimit).IsEqual("5")
		resp.Header(HeaderRemaining).IsEqual(remaining)
	}
	e.GET("/").WithHeader("Authorization", "Token 4fe2d1").Expect().Status(http.StatusTooManyRequests)

	// Unknown tokens fall back to the exhausted IP bucket.
	e.GET("/").WithHeader("Authorization", "Token nope").Expect().Status(http.StatusTooManyRequests)
	assert.Equal(t, int64(8), calls.Load())
}

func TestMiddlewareContext(t *testing.T) {
	env := newTestEnv(t, WithUserValidation(func(_ context.Context, token string) bool { return true }))
	var seen *RateLimit
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	})
	e := serve(t, env.limiter.Middleware(Scope("ctx"))(handler))

	e.GET("/").WithHeader("Authorization", "Bearer abc").Expect().Status(http.StatusOK)
	require.NotNil(t, seen)
	assert.Equal(t, KindToken, seen.Kind)
	assert.Equal(t, "abc", seen.Subject)
	assert.Equal(t, "ctx", seen.Scope)
	assert.Equal(t, int64(1), seen.Current)

	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestMiddlewareClientIP(t *testing.T) {
	env := newTestEnv(t, WithClientIP(func(r *http.Request) string {
		return r.Header.Get("X-Forwarded-For")
	}))
	var seen *RateLimit
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
	})
	e := serve(t, env.limiter.Middleware(PerIPLimit(1))(handler))

	e.GET("/").WithHeader("X-Forwarded-For", "192.0.2.1").Expect().Status(http.StatusOK)
	assert.Equal(t, "192.0.2.1", seen.Subject)
	e.GET("/").WithHeader("X-Forwarded-For", "192.0.2.2").Expect().Status(http.StatusOK)
	e.GET("/").WithHeader("X-Forwarded-For", "192.0.2.1").Expect().Status(http.StatusTooManyRequests)
}

func TestMiddlewareStoreFailure(t *testing.T) {
	env := newTestEnv(t)
	var calls atomic.Int64
	e := serve(t, env.limiter.Middleware()(okHandler(&calls)))

	env.mr.Close()
	e.GET("/path").Expect().Status(http.StatusInternalServerError)
	assert.Zero(t, calls.Load())
	assert.True(t, env.log.Contains("ERROR", "rate limit check for GET /path failed"))
}

func TestMiddlewareErrorHandler(t *testing.T) {
	env := newTestEnv(t, WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	var calls atomic.Int64
	e := serve(t, env.limiter.Middleware()(okHandler(&calls)))

	env.mr.Close()
	e.GET("/").Expect().Status(http.StatusServiceUnavailable)
}

func TestRouteOptionsIgnoreInvalid(t *testing.T) {
	var rt route
	for _, opt := range []RouteOption{PerIPLimit(0), PerTokenLimit(-3), Window(10 * time.Millisecond)} {
		opt(&rt)
	}
	assert.True(t, rt.override.IsZero())

	Window(2500 * time.Millisecond)(&rt)
	assert.Equal(t, 2*time.Second, rt.override.Window)
}
