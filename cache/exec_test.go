package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recording struct {
	MBID     string    `msgpack:"mbid"`
	Title    string    `msgpack:"title"`
	Length   int       `msgpack:"length"`
	Released time.Time `msgpack:"released"`
}

func TestGetAs(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()

		rec := recording{
			MBID:     "b1a9c0e9-d987-4042-ae91-78d6a3267d69",
			Title:    "Joga",
			Length:   305000,
			Released: time.Date(1997, 9, 15, 0, 0, 0, 0, time.UTC),
		}
		_, err := c.Set(ctx, "rec", rec, time.Minute)
		require.NoError(t, err)

		ok, got, err := GetAs[recording](ctx, c, "rec")
		assert.NoError(t, err)
		assert.True(t, ok)
		got.Released = got.Released.UTC()
		assert.Equal(t, rec, got)

		_, err = c.Set(ctx, "n", 42, time.Minute)
		require.NoError(t, err)
		ok, n, err := GetAs[int](ctx, c, "n")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 42, n)

		_, err = c.Set(ctx, "m", map[string]int{"a": 1, "b": 2}, time.Minute)
		require.NoError(t, err)
		ok, m, err := GetAs[map[string]int](ctx, c, "m")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, map[string]int{"a": 1, "b": 2}, m)

		ok, _, err = GetAs[string](ctx, c, "missing")
		assert.NoError(t, err)
		assert.False(t, ok)

		_, _, err = GetAs[int](ctx, c, "rec")
		assert.Error(t, err)
	})
}

func TestExecCacheMiss(t *testing.T) {
	_, c := newTestClient(t, DriverRedis)
	ctx := context.Background()

	invoked := false
	found, val, err := Exec(ctx, ExecConfig{Key: "key", Expires: time.Minute}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh-value", val)
	assert.True(t, invoked)

	cached, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Equal(t, "fresh-value", cached)
}

func TestExecCacheHit(t *testing.T) {
	_, c := newTestClient(t, DriverValkey)
	ctx := context.Background()

	_, err := c.Set(ctx, "key", "cached-value", time.Minute, Namespace("exec"))
	require.NoError(t, err)

	invoked := false
	found, val, err := Exec(ctx, ExecConfig{Key: "key", Namespace: "exec"}, c, func(ctx context.Context) (string, bool, error) {
		invoked = true
		return "fresh-value", true, nil
	})
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "cached-value", val)
	assert.False(t, invoked)
}

func TestExecNamespaceInvalidation(t *testing.T) {
	_, c := newTestClient(t, DriverRedis)
	ctx := context.Background()

	calls := 0
	invoke := func(ctx context.Context) (int, bool, error) {
		calls++
		return calls, true, nil
	}
	cfg := ExecConfig{Key: "key", Namespace: "exec"}

	_, val, err := Exec(ctx, cfg, c, invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, val)
	_, val, err = Exec(ctx, cfg, c, invoke)
	require.NoError(t, err)
	assert.Equal(t, 1, val)

	_, err = c.InvalidateNamespace(ctx, "exec")
	require.NoError(t, err)

	_, val, err = Exec(ctx, cfg, c, invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, val)
}

func TestExecInvokerError(t *testing.T) {
	_, c := newTestClient(t, DriverRedis)
	ctx := context.Background()

	expectedErr := fmt.Errorf("invoke failed")
	found, val, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, expectedErr
	})
	assert.ErrorIs(t, err, expectedErr)
	assert.False(t, found)
	assert.Equal(t, "", val)

	cached, err := c.Get(ctx, "key")
	assert.NoError(t, err)
	assert.Nil(t, cached)
}

func TestExecNotFound(t *testing.T) {
	mr, c := newTestClient(t, DriverRedis)
	ctx := context.Background()

	found, _, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (string, bool, error) {
		return "", false, nil
	})
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, mr.Keys())
}

func TestExecDefaultExpires(t *testing.T) {
	mr, c := newTestClient(t, DriverRedis)
	ctx := context.Background()

	_, _, err := Exec(ctx, ExecConfig{Key: "key"}, c, func(ctx context.Context) (int, bool, error) {
		return 42, true, nil
	})
	require.NoError(t, err)

	physical, err := c.DeriveKey(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, DefaultExpires, mr.TTL(physical))
}

func TestExecRequiresKey(t *testing.T) {
	_, c := newTestClient(t, DriverRedis)
	_, _, err := Exec(context.Background(), ExecConfig{}, c, func(ctx context.Context) (int, bool, error) {
		return 0, true, nil
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
