package cache

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	valkey "github.com/valkey-io/valkey-go"
)

// Client is the cache facade. It owns one long-lived store connection and
// the global namespace prefix; all methods are safe for concurrent use.
//
// A nil or zero Client fails every operation with ErrNotInitialized.
type Client struct {
	store  Store
	prefix string
	cfg    config
}

// New connects to the store described by cfg and verifies it with a PING.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.Host == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errors.Wrapf(ErrInvalidConfig, "invalid port %d", cfg.Port)
	}
	if cfg.DB < 0 {
		return nil, errors.Wrapf(ErrInvalidConfig, "invalid database number %d", cfg.DB)
	}
	prefix, err := globalPrefix(cfg.Namespace)
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	var store Store
	switch cfg.Driver {
	case "", DriverRedis:
		store = NewRedisStore(redis.NewClient(&redis.Options{
			Addr:       addr,
			DB:         cfg.DB,
			Username:   cfg.Username,
			Password:   cfg.Password,
			ClientName: cfg.ClientName,
		}))
	case DriverValkey:
		client, err := valkey.NewClient(valkey.ClientOption{
			InitAddress:       []string{addr},
			SelectDB:          cfg.DB,
			Username:          cfg.Username,
			Password:          cfg.Password,
			ClientName:        cfg.ClientName,
			AlwaysRESP2:       true,
			ForceSingleClient: true,
			DisableCache:      true,
		})
		if err != nil {
			return nil, errors.Wrap(err, "cache: valkey client")
		}
		store = NewValkeyStore(client)
	default:
		return nil, errors.Wrapf(ErrInvalidConfig, "unknown driver %q", cfg.Driver)
	}

	c := &Client{store: store, prefix: prefix, cfg: applyOptions(opts)}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	if err := store.Ping(qctx); err != nil {
		store.Close()
		return nil, errors.Wrapf(err, "cache: ping %s", addr)
	}
	return c, nil
}

// NewWithStore wraps an existing store. namespace is the global key prefix.
func NewWithStore(store Store, namespace string, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "store is required")
	}
	prefix, err := globalPrefix(namespace)
	if err != nil {
		return nil, err
	}
	return &Client{store: store, prefix: prefix, cfg: applyOptions(opts)}, nil
}

func (c *Client) ready() error {
	if c == nil || c.store == nil {
		return ErrNotInitialized
	}
	return nil
}

func (c *Client) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	if c.cfg.queryTimeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, c.cfg.queryTimeout)
}

// keys resolves the physical keys for a call, creating the namespace
// version if needed.
func (c *Client) keys(ctx context.Context, co callOptions, keys ...string) ([]string, error) {
	out := make([]string, len(keys))
	if co.verbatim {
		copy(out, keys)
		return out, nil
	}
	var nsVersion string
	if co.namespace != "" {
		var err error
		if nsVersion, err = c.namespaceAndVersion(ctx, co.namespace); err != nil {
			return nil, err
		}
	}
	for i, k := range keys {
		out[i] = c.prepKey(k, nsVersion)
	}
	return out, nil
}

func (c *Client) key(ctx context.Context, co callOptions, key string) (string, error) {
	keys, err := c.keys(ctx, co, key)
	if err != nil {
		return "", err
	}
	return keys[0], nil
}

func encodeValue(co callOptions, v any) ([]byte, error) {
	if co.raw {
		return rawBytes(v)
	}
	return Encode(v)
}

func decodeValue(co callOptions, b []byte) (any, error) {
	if b == nil {
		return nil, nil
	}
	if co.raw {
		return b, nil
	}
	return Decode(b)
}

// DeriveKey returns the physical key a logical key maps to.
func (c *Client) DeriveKey(ctx context.Context, key string, opts ...CallOption) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.key(qctx, applyCallOptions(opts), key)
}

// Set stores a value. expire <= 0 stores it without expiry.
func (c *Client) Set(ctx context.Context, key string, value any, expire time.Duration, opts ...CallOption) (bool, error) {
	return c.SetMany(ctx, map[string]any{key: value}, expire, opts...)
}

// SetMany stores several values in one transaction. Nil values are
// removed instead of stored, in the same transaction.
func (c *Client) SetMany(ctx context.Context, mapping map[string]any, expire time.Duration, opts ...CallOption) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	co := applyCallOptions(opts)
	logical := make([]string, 0, len(mapping))
	encoded := make([][]byte, 0, len(mapping))
	for k, v := range mapping {
		b, err := encodeValue(co, v)
		if err != nil {
			return false, err
		}
		logical = append(logical, k)
		encoded = append(encoded, b)
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	physical, err := c.keys(qctx, co, logical...)
	if err != nil {
		return false, err
	}
	values := make(map[string][]byte, len(physical))
	var absent []string
	for i, k := range physical {
		if encoded[i] == nil {
			absent = append(absent, k)
			continue
		}
		values[k] = encoded[i]
	}
	if err := c.store.MSet(qctx, values, expire, absent...); err != nil {
		return false, err
	}
	return true, nil
}

// Add stores a value only if the key does not exist yet and reports
// whether it was stored.
func (c *Client) Add(ctx context.Context, key string, value any, expire time.Duration, opts ...CallOption) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	co := applyCallOptions(opts)
	b, err := encodeValue(co, value)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, errors.Wrap(ErrUnsupportedType, "cannot add a nil value")
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, co, key)
	if err != nil {
		return false, err
	}
	return c.store.SetNX(qctx, k, b, expire)
}

// Get retrieves a value, or nil if it is not found.
func (c *Client) Get(ctx context.Context, key string, opts ...CallOption) (any, error) {
	result, err := c.GetMany(ctx, []string{key}, opts...)
	if err != nil {
		return nil, err
	}
	return result[key], nil
}

// GetMany retrieves several values in one query. Every requested key is
// present in the result; missing ones map to nil.
func (c *Client) GetMany(ctx context.Context, keys []string, opts ...CallOption) (map[string]any, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	co := applyCallOptions(opts)
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	physical, err := c.keys(qctx, co, keys...)
	if err != nil {
		return nil, err
	}
	vals, err := c.store.MGet(qctx, physical...)
	if err != nil {
		return nil, err
	}
	result := make(map[string]any, len(keys))
	for i, k := range keys {
		var raw []byte
		if i < len(vals) {
			raw = vals[i]
		}
		v, err := decodeValue(co, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", k)
		}
		result[k] = v
	}
	return result, nil
}

// Delete removes a key and returns the number of keys removed.
func (c *Client) Delete(ctx context.Context, key string, opts ...CallOption) (int64, error) {
	return c.DeleteMany(ctx, []string{key}, opts...)
}

// DeleteMany removes several keys and returns the number of keys removed.
func (c *Client) DeleteMany(ctx context.Context, keys []string, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	physical, err := c.keys(qctx, applyCallOptions(opts), keys...)
	if err != nil {
		return 0, err
	}
	return c.store.Del(qctx, physical...)
}

// Expire sets a key's time to live with millisecond precision.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration, opts ...CallOption) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), key)
	if err != nil {
		return false, err
	}
	return c.store.PExpire(qctx, k, ttl)
}

// ExpireAt sets the absolute time at which a key expires, with millisecond
// precision.
func (c *Client) ExpireAt(ctx context.Context, key string, at time.Time, opts ...CallOption) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), key)
	if err != nil {
		return false, err
	}
	return c.store.PExpireAt(qctx, k, at)
}

// Increment atomically adds 1 to a counter, creating it at 0 first.
func (c *Client) Increment(ctx context.Context, key string, opts ...CallOption) (int64, error) {
	return c.IncrementBy(ctx, key, 1, opts...)
}

// IncrementBy atomically adds amount to a counter. The store's error is
// returned unchanged (marked ErrNotInteger or ErrOverflow) when the current
// value is not a valid integer or the result would overflow.
func (c *Client) IncrementBy(ctx context.Context, key string, amount int64, opts ...CallOption) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	k, err := c.key(qctx, applyCallOptions(opts), key)
	if err != nil {
		return 0, err
	}
	return c.store.IncrBy(qctx, k, amount)
}

// FlushAll removes every key of the selected database, across all
// namespaces and global prefixes. Meant for test isolation.
func (c *Client) FlushAll(ctx context.Context) error {
	if err := c.ready(); err != nil {
		return err
	}
	qctx, cancel := c.queryCtx(ctx)
	defer cancel()
	return c.store.FlushDB(qctx)
}

// Close releases the store connection.
func (c *Client) Close() error {
	if err := c.ready(); err != nil {
		return err
	}
	return c.store.Close()
}
