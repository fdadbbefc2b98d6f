package ratelimit

import (
	"context"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/metabrainz/brainzutils-go/cache"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultPerTokenLimit = 50
	DefaultPerIPLimit    = 30
	DefaultWindow        = 10 * time.Second

	// CacheNamespace holds both the stored limits and the window counters.
	CacheNamespace = "rate_limit"

	perTokenKey = "rate_limit_per_token_limit"
	perIPKey    = "rate_limit_per_ip_limit"
	windowKey   = "rate_limit_window"
)

// Limits is a rate limit configuration. A zero field is unset and falls
// through to the next configuration layer.
type Limits struct {
	PerToken int64         `json:"per_token" yaml:"per_token" koanf:"per_token"`
	PerIP    int64         `json:"per_ip" yaml:"per_ip" koanf:"per_ip"`
	Window   time.Duration `json:"window" yaml:"window" koanf:"window"`
}

// DefaultLimits returns the built-in limits used when nothing is stored.
func DefaultLimits() Limits {
	return Limits{
		PerToken: DefaultPerTokenLimit,
		PerIP:    DefaultPerIPLimit,
		Window:   DefaultWindow,
	}
}

// IsZero reports whether no field is set.
func (l Limits) IsZero() bool {
	return l == Limits{}
}

// Or fills the unset fields of l from fallback.
func (l Limits) Or(fallback Limits) Limits {
	if l.PerToken <= 0 {
		l.PerToken = fallback.PerToken
	}
	if l.PerIP <= 0 {
		l.PerIP = fallback.PerIP
	}
	if l.Window <= 0 {
		l.Window = fallback.Window
	}
	return l
}

// Validate rejects negative limits and windows that are not whole seconds.
func (l Limits) Validate() error {
	if l.PerToken < 0 || l.PerIP < 0 {
		return errors.Wrapf(ErrInvalidLimits, "limits must not be negative (per_token=%d, per_ip=%d)", l.PerToken, l.PerIP)
	}
	if l.Window < 0 || l.Window%time.Second != 0 {
		return errors.Wrapf(ErrInvalidLimits, "window must be a whole number of seconds, got %s", l.Window)
	}
	return nil
}

func scopedKey(scope, key string) string {
	if scope == "" {
		return key
	}
	return scope + ":" + key
}

// SetRateLimits stores limits for scope (empty for the global layer) in a
// single transaction. Unset fields are removed from the store. Windows that
// are already open keep the limit they started with.
func (l *Limiter) SetRateLimits(ctx context.Context, limits Limits, scope string) error {
	if err := limits.Validate(); err != nil {
		return err
	}
	mapping := map[string]any{
		scopedKey(scope, perTokenKey): nil,
		scopedKey(scope, perIPKey):    nil,
		scopedKey(scope, windowKey):   nil,
	}
	if limits.PerToken > 0 {
		mapping[scopedKey(scope, perTokenKey)] = limits.PerToken
	}
	if limits.PerIP > 0 {
		mapping[scopedKey(scope, perIPKey)] = limits.PerIP
	}
	if limits.Window > 0 {
		mapping[scopedKey(scope, windowKey)] = int64(limits.Window / time.Second)
	}
	if _, err := l.cache.SetMany(ctx, mapping, 0, cache.Namespace(CacheNamespace)); err != nil {
		return errors.Wrapf(err, "ratelimit: store limits for scope %q", scope)
	}
	l.stored.forget(scope)
	return nil
}

// GetRateLimits returns the limits stored for scope. For the global layer
// unset fields are filled from DefaultLimits; for a named scope they stay
// zero.
func (l *Limiter) GetRateLimits(ctx context.Context, scope string) (Limits, error) {
	keys := []string{scopedKey(scope, perTokenKey), scopedKey(scope, perIPKey), scopedKey(scope, windowKey)}
	values, err := l.cache.GetMany(ctx, keys, cache.Namespace(CacheNamespace))
	if err != nil {
		return Limits{}, errors.Wrapf(err, "ratelimit: load limits for scope %q", scope)
	}
	var limits Limits
	if n, ok := toInt64(values[keys[0]]); ok {
		limits.PerToken = n
	}
	if n, ok := toInt64(values[keys[1]]); ok {
		limits.PerIP = n
	}
	if n, ok := toInt64(values[keys[2]]); ok && n > 0 {
		limits.Window = time.Duration(n) * time.Second
	}
	if scope == "" {
		limits = limits.Or(DefaultLimits())
	}
	return limits, nil
}

// Resolve returns the effective limits for scope, field by field: override,
// then the scope's stored limits, then the global stored limits, then the
// defaults.
func (l *Limiter) Resolve(ctx context.Context, scope string, override Limits) (Limits, error) {
	limits := override
	if scope != "" {
		scoped, err := l.stored.get(ctx, scope)
		if err != nil {
			return Limits{}, err
		}
		limits = limits.Or(scoped)
	}
	global, err := l.stored.get(ctx, "")
	if err != nil {
		return Limits{}, err
	}
	return limits.Or(global).Or(DefaultLimits()), nil
}

// toInt64 accepts the integer encodings other clients may have stored.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case []byte:
		i, err := strconv.ParseInt(string(n), 10, 64)
		return i, err == nil
	}
	return 0, false
}

type storedEntry struct {
	limits  Limits
	expires time.Time
}

// storedLimits keeps stored limits in process for a refresh interval. With
// a zero interval every call reads the store.
type storedLimits struct {
	limiter *Limiter
	refresh time.Duration

	mu      sync.Mutex
	entries map[string]storedEntry
	group   singleflight.Group
}

func (s *storedLimits) get(ctx context.Context, scope string) (Limits, error) {
	if s.refresh <= 0 {
		return s.limiter.GetRateLimits(ctx, scope)
	}
	now := s.limiter.clock.Now()
	s.mu.Lock()
	entry, ok := s.entries[scope]
	s.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.limits, nil
	}
	v, err, _ := s.group.Do("scope:"+scope, func() (any, error) {
		limits, err := s.limiter.GetRateLimits(ctx, scope)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.entries[scope] = storedEntry{limits: limits, expires: now.Add(s.refresh)}
		s.mu.Unlock()
		return limits, nil
	})
	if err != nil {
		return Limits{}, err
	}
	return v.(Limits), nil
}

func (s *storedLimits) forget(scope string) {
	s.mu.Lock()
	delete(s.entries, scope)
	s.mu.Unlock()
}
