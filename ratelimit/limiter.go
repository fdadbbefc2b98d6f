package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
	"github.com/metabrainz/brainzutils-go/logger"
)

var (
	// ErrNotInitialized is returned by New without a cache client.
	ErrNotInitialized = errors.New("ratelimit: a cache client is required")
	// ErrInvalidLimits is returned for negative limits or fractional windows.
	ErrInvalidLimits = errors.New("ratelimit: invalid limits")
	// ErrNoSubject is returned by Check for a request without a subject.
	ErrNoSubject = errors.New("ratelimit: request has no subject")
)

// DefaultExpirationPadding is added to the expiry of every window counter
// so workers whose clocks run behind the store do not see it vanish early.
const DefaultExpirationPadding = 10 * time.Second

// Kind tells which limit applies to a subject.
type Kind string

const (
	KindToken Kind = "token"
	KindIP    Kind = "ip"
)

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// UserValidator reports whether an Authorization token belongs to a known
// user. Valid tokens are limited per token, everything else per IP.
type UserValidator func(ctx context.Context, token string) bool

// ErrorHandler writes the response when the limiter itself fails.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Request identifies one hit against the limiter.
type Request struct {
	// Scope isolates counters and stored limits. Empty is the global scope.
	Scope   string
	Subject string
	Kind    Kind
	// Override takes precedence over stored limits, field by field.
	Override Limits
}

// RateLimit is the outcome of one Check.
type RateLimit struct {
	Key     string
	Scope   string
	Subject string
	Kind    Kind
	Limit   int64
	Current int64
	Window  time.Duration
	// Reset is the end of the window in seconds since the epoch.
	Reset              int64
	SecondsBeforeReset int64
}

// Remaining is the number of hits left in the window, never negative.
func (r *RateLimit) Remaining() int64 {
	return max(r.Limit-r.Current, 0)
}

// OverLimit reports whether this hit exceeded the limit.
func (r *RateLimit) OverLimit() bool {
	return r.Current > r.Limit
}

// Limiter is a fixed window rate limiter whose counters and configuration
// live in the cache, so every process sharing the store shares the limits.
type Limiter struct {
	cache    *cache.Client
	clock    Clock
	log      logger.Logger
	padding  time.Duration
	clientIP func(*http.Request) string
	onError  ErrorHandler
	validate atomic.Pointer[UserValidator]
	stored   *storedLimits
}

type options struct {
	clock    Clock
	validate UserValidator
	refresh  time.Duration
	log      logger.Logger
	clientIP func(*http.Request) string
	padding  time.Duration
	onError  ErrorHandler
}

// Option configures a Limiter.
type Option func(*options)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithUserValidation sets the initial token validator, see SetUserValidation.
func WithUserValidation(fn UserValidator) Option {
	return func(o *options) { o.validate = fn }
}

// WithConfigRefresh keeps stored limits in process for d instead of reading
// them on every request.
func WithConfigRefresh(d time.Duration) Option {
	return func(o *options) { o.refresh = d }
}

func WithLogger(log logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithClientIP replaces how the client address is taken from a request.
// The default uses the host part of RemoteAddr.
func WithClientIP(fn func(*http.Request) string) Option {
	return func(o *options) { o.clientIP = fn }
}

// WithExpirationPadding changes DefaultExpirationPadding.
func WithExpirationPadding(d time.Duration) Option {
	return func(o *options) { o.padding = d }
}

// WithErrorHandler replaces the handler used by Middleware when a check
// fails. The default logs the error and answers 500.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) { o.onError = fn }
}

// New returns a Limiter backed by c.
func New(c *cache.Client, opts ...Option) (*Limiter, error) {
	if c == nil {
		return nil, ErrNotInitialized
	}
	o := options{
		clock:    systemClock{},
		clientIP: remoteAddrIP,
		padding:  DefaultExpirationPadding,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = logger.NewConsoleLogger()
	}
	l := &Limiter{
		cache:    c,
		clock:    o.clock,
		log:      o.log.WithPrefix("[ratelimit]"),
		padding:  o.padding,
		clientIP: o.clientIP,
		onError:  o.onError,
	}
	if l.onError == nil {
		l.onError = l.internalError
	}
	l.stored = &storedLimits{limiter: l, refresh: o.refresh, entries: make(map[string]storedEntry)}
	if o.validate != nil {
		l.SetUserValidation(o.validate)
	}
	return l, nil
}

// SetUserValidation installs the token validator used by Middleware. Nil
// disables per token limiting. Safe to call while serving.
func (l *Limiter) SetUserValidation(fn UserValidator) {
	if fn == nil {
		l.validate.Store(nil)
		return
	}
	l.validate.Store(&fn)
}

// Check counts one hit for req in the current window and reports the
// outcome. Counters are keyed by the window's reset time and expire
// shortly after it.
func (l *Limiter) Check(ctx context.Context, req Request) (*RateLimit, error) {
	if req.Subject == "" {
		return nil, ErrNoSubject
	}
	if err := req.Override.Validate(); err != nil {
		return nil, err
	}
	limits, err := l.Resolve(ctx, req.Scope, req.Override)
	if err != nil {
		return nil, err
	}
	limit := limits.PerIP
	if req.Kind == KindToken {
		limit = limits.PerToken
	}
	per := int64(limits.Window / time.Second)
	if per < 1 {
		return nil, errors.Wrapf(ErrInvalidLimits, "window %s is shorter than a second", limits.Window)
	}

	now := l.clock.Now().Unix()
	reset := now/per*per + per
	key := scopedKey(req.Scope, req.Subject+strconv.FormatInt(reset, 10))
	expireAt := time.Unix(reset, 0).Add(l.padding)
	ns := cache.Namespace(CacheNamespace)

	current, err := l.cache.Increment(ctx, key, ns)
	if err != nil {
		return nil, errors.Wrap(err, "ratelimit: count hit")
	}
	if _, err := l.cache.ExpireAt(ctx, key, expireAt, ns); err != nil {
		return nil, errors.Wrap(err, "ratelimit: expire counter")
	}
	limit, err = l.pin(ctx, key+":limit", limit, current == 1, expireAt.Sub(time.Unix(now, 0)))
	if err != nil {
		return nil, err
	}
	return &RateLimit{
		Key:                key,
		Scope:              req.Scope,
		Subject:            req.Subject,
		Kind:               req.Kind,
		Limit:              limit,
		Current:            current,
		Window:             limits.Window,
		Reset:              reset,
		SecondsBeforeReset: reset - now,
	}, nil
}

// pin returns the limit recorded for a window, recording limit when the
// window has none yet. Config changes therefore only reach new windows.
func (l *Limiter) pin(ctx context.Context, key string, limit int64, first bool, ttl time.Duration) (int64, error) {
	ns := cache.Namespace(CacheNamespace)
	if !first {
		v, err := l.cache.Get(ctx, key, ns)
		if err != nil {
			return 0, errors.Wrap(err, "ratelimit: read window limit")
		}
		if n, ok := toInt64(v); ok && n > 0 {
			return n, nil
		}
	}
	added, err := l.cache.Add(ctx, key, limit, ttl, ns)
	if err != nil {
		return 0, errors.Wrap(err, "ratelimit: record window limit")
	}
	if added {
		return limit, nil
	}
	v, err := l.cache.Get(ctx, key, ns)
	if err != nil {
		return 0, errors.Wrap(err, "ratelimit: read window limit")
	}
	if n, ok := toInt64(v); ok && n > 0 {
		return n, nil
	}
	return limit, nil
}

// Subject picks the subject of an HTTP request: the Authorization token
// when the validator accepts it, the client IP otherwise.
func (l *Limiter) Subject(r *http.Request) (string, Kind) {
	if fn := l.validate.Load(); fn != nil {
		if token := authToken(r.Header.Get("Authorization")); token != "" && (*fn)(r.Context(), token) {
			return token, KindToken
		}
	}
	return l.clientIP(r), KindIP
}

func authToken(header string) string {
	header = strings.TrimSpace(header)
	for _, scheme := range []string{"Token ", "Bearer "} {
		if len(header) >= len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
			return strings.TrimSpace(header[len(scheme):])
		}
	}
	return header
}

func remoteAddrIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (l *Limiter) internalError(w http.ResponseWriter, r *http.Request, err error) {
	l.log.WithContext(r.Context()).Error("rate limit check for %s %s failed: %v", r.Method, r.URL.Path, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
