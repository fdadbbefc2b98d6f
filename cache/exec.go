package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// GetAs retrieves a value and converts it to T. Values already decoded as T
// are returned directly; composite values (maps into structs, int64 into
// int) are converted through msgpack.
func GetAs[T any](ctx context.Context, c *Client, key string, opts ...CallOption) (bool, T, error) {
	var zero T
	val, err := c.Get(ctx, key, opts...)
	if err != nil || val == nil {
		return false, zero, err
	}
	if typed, ok := val.(T); ok {
		return true, typed, nil
	}
	data, err := msgpack.Marshal(val)
	if err != nil {
		return false, zero, errors.Wrapf(err, "cache: convert %T", val)
	}
	var result T
	if err := msgpack.Unmarshal(data, &result); err != nil {
		return false, zero, errors.Wrapf(err, "cache: cannot convert value of type %T to %T", val, zero)
	}
	return true, result, nil
}

// DefaultExpires is the TTL used by Exec when ExecConfig.Expires is zero.
const DefaultExpires = 5 * time.Minute

// ExecConfig configures the Exec helper.
type ExecConfig struct {
	// Key is the logical cache key. Required.
	Key string
	// Namespace optionally scopes Key to a versioned namespace.
	Namespace string
	// Expires is the TTL for cached values. Defaults to DefaultExpires if zero.
	Expires time.Duration
}

// Invoker produces a value of type T. Returning false signals "not found"
// and nothing is cached.
type Invoker[T any] func(ctx context.Context) (T, bool, error)

// Exec is a cache-aside helper. A hit returns the cached value without
// calling invoke. On a miss invoke runs and, when it finds a value, the value
// is cached and returned. Read errors are returned without invoking; a failed
// write after a successful invoke is ignored.
func Exec[T any](ctx context.Context, config ExecConfig, c *Client, invoke Invoker[T]) (bool, T, error) {
	var zero T
	if config.Key == "" {
		return false, zero, errors.Wrap(ErrInvalidConfig, "exec key is required")
	}
	var opts []CallOption
	if config.Namespace != "" {
		opts = append(opts, Namespace(config.Namespace))
	}
	found, val, err := GetAs[T](ctx, c, config.Key, opts...)
	if err != nil {
		return false, zero, err
	}
	if found {
		return true, val, nil
	}

	result, ok, err := invoke(ctx)
	if err != nil {
		return false, zero, err
	}
	if !ok {
		return false, zero, nil
	}

	expires := config.Expires
	if expires == 0 {
		expires = DefaultExpires
	}
	_, _ = c.Set(ctx, config.Key, result, expires, opts...)
	return true, result, nil
}
