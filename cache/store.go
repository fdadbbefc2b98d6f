package cache

import (
	"context"
	"time"
)

// Store is the primitive key-value command set the facade is built on.
// Implementations must be safe for concurrent use and must return store
// replies through Classify so counter errors can be matched with errors.Is.
//
// Missing values are reported as nil entries, never as errors.
type Store interface {
	// MGet returns one entry per key, nil for missing keys.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)
	// MSet writes all values, their expiry when ttl > 0, and deletes the
	// remove keys, all in one transaction.
	MSet(ctx context.Context, values map[string][]byte, ttl time.Duration, remove ...string) error
	// SetNX writes value only if key does not exist.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	IncrBy(ctx context.Context, key string, amount int64) (int64, error)
	PExpire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	PExpireAt(ctx context.Context, key string, at time.Time) (bool, error)

	HIncrBy(ctx context.Context, key, field string, amount int64) (int64, error)
	HSet(ctx context.Context, key, field string, value []byte) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HKeys(ctx context.Context, key string) ([]string, error)
	HDel(ctx context.Context, key string, fields ...string) (int64, error)

	// SAdd adds members and, when ttl > 0, re-applies the expiry to the whole set.
	SAdd(ctx context.Context, key string, members [][]byte, ttl time.Duration) (int64, error)
	SMembers(ctx context.Context, key string) ([][]byte, error)

	RPush(ctx context.Context, key string, values ...[]byte) (int64, error)

	FlushDB(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
