package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OverLimitMessage is the body of a 429 response.
const OverLimitMessage = "You have exceeded your rate limit. See the X-RateLimit-* response headers for more information on your current rate limit."

const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderReset     = "X-RateLimit-Reset"
	HeaderResetIn   = "X-RateLimit-Reset-In"
)

var exposedHeaders = HeaderRemaining + "," + HeaderLimit + "," + HeaderReset + "," + HeaderResetIn

type contextKey struct{}

// NewContext returns a copy of ctx carrying rl.
func NewContext(ctx context.Context, rl *RateLimit) context.Context {
	return context.WithValue(ctx, contextKey{}, rl)
}

// FromContext returns the RateLimit stored by Middleware, if any.
func FromContext(ctx context.Context) (*RateLimit, bool) {
	rl, ok := ctx.Value(contextKey{}).(*RateLimit)
	return rl, ok
}

// RouteOption configures one use of Middleware.
type RouteOption func(*route)

type route struct {
	scope    string
	override Limits
}

// Scope gives the route its own counters and stored limits. Routes sharing
// a scope share counters, and the limit of a window is pinned by the first
// request of each client in it. Routes of one scope with different
// overrides therefore enforce whichever limit was pinned first until the
// window resets.
func Scope(scope string) RouteOption {
	return func(r *route) { r.scope = scope }
}

// PerTokenLimit overrides the stored per token limit. Values below 1 are
// ignored. Like PerIPLimit it only applies to windows opened through this
// route.
func PerTokenLimit(n int64) RouteOption {
	return func(r *route) {
		if n > 0 {
			r.override.PerToken = n
		}
	}
}

// PerIPLimit overrides the stored per IP limit. Values below 1 are ignored.
// The override only applies to windows opened through this route; see
// Scope.
func PerIPLimit(n int64) RouteOption {
	return func(r *route) {
		if n > 0 {
			r.override.PerIP = n
		}
	}
}

// Window overrides the stored window. It is truncated to whole seconds and
// ignored when shorter than a second.
func Window(d time.Duration) RouteOption {
	return func(r *route) {
		if d >= time.Second {
			r.override.Window = d.Truncate(time.Second)
		}
	}
}

// WriteHeaders sets the X-RateLimit-* headers describing rl.
func WriteHeaders(h http.Header, rl *RateLimit) {
	h.Set("Access-Control-Expose-Headers", exposedHeaders)
	h.Set(HeaderRemaining, strconv.FormatInt(rl.Remaining(), 10))
	h.Set(HeaderLimit, strconv.FormatInt(rl.Limit, 10))
	h.Set(HeaderReset, strconv.FormatInt(rl.Reset, 10))
	h.Set(HeaderResetIn, strconv.FormatInt(rl.SecondsBeforeReset, 10))
}

func (rl *RateLimit) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ratelimit.scope", rl.Scope),
		attribute.String("ratelimit.kind", string(rl.Kind)),
		attribute.Int64("ratelimit.limit", rl.Limit),
		attribute.Int64("ratelimit.remaining", rl.Remaining()),
		attribute.Int64("ratelimit.reset", rl.Reset),
		attribute.Bool("ratelimit.over_limit", rl.OverLimit()),
	}
}

// Middleware limits every request passing through it. Over the limit it
// answers 429 without calling next; otherwise next runs with the RateLimit
// available through FromContext. Both cases carry the X-RateLimit-* headers.
// Routes given the same Scope share counters and the pinned window limit.
func (l *Limiter) Middleware(opts ...RouteOption) func(http.Handler) http.Handler {
	var rt route
	for _, opt := range opts {
		opt(&rt)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject, kind := l.Subject(r)
			rl, err := l.Check(ctx, Request{
				Scope:    rt.scope,
				Subject:  subject,
				Kind:     kind,
				Override: rt.override,
			})
			if err != nil {
				l.onError(w, r, err)
				return
			}
			WriteHeaders(w.Header(), rl)
			trace.SpanFromContext(ctx).SetAttributes(rl.attributes()...)
			if rl.OverLimit() {
				l.log.WithContext(ctx).Debug("%s %s over limit for %s (%d/%d)", r.Method, r.URL.Path, kind, rl.Current, rl.Limit)
				w.Header().Set("Retry-After", strconv.FormatInt(rl.SecondsBeforeReset, 10))
				http.Error(w, OverLimitMessage, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r.WithContext(NewContext(ctx, rl)))
		})
	}
}
