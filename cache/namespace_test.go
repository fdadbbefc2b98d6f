package cache

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateNamespace(t *testing.T) {
	for _, ns := range []string{"a", "artists", "rate_limit", "A-1_b"} {
		assert.NoError(t, ValidateNamespace(ns), ns)
	}
	for _, ns := range []string{"", "with space", "a:b", "café", "a/b", "ns\n"} {
		err := ValidateNamespace(ns)
		assert.ErrorIs(t, err, ErrInvalidNamespace, ns)
		assert.True(t, IsValidationError(err))
	}
}

func TestInvalidNamespaceRejectedBeforeStore(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()
		_, err := c.Set(ctx, "key", "value", 0, Namespace("bad ns"))
		assert.ErrorIs(t, err, ErrInvalidNamespace)
		_, err = c.InvalidateNamespace(ctx, "bad:ns")
		assert.ErrorIs(t, err, ErrInvalidNamespace)
		_, _, err = c.NamespaceVersion(ctx, "")
		assert.ErrorIs(t, err, ErrInvalidNamespace)
		assert.Empty(t, mr.Keys())
	})
}

func TestNamespaceVersion(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()

		found, version, err := c.NamespaceVersion(ctx, "artists")
		assert.NoError(t, err)
		assert.False(t, found)
		assert.Equal(t, int64(0), version)

		// first namespaced use materializes version 1
		_, err = c.Set(ctx, "artist-42", "Björk", 0, Namespace("artists"))
		require.NoError(t, err)

		found, version, err = c.NamespaceVersion(ctx, "artists")
		assert.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, int64(1), version)

		key, err := c.DeriveKey(ctx, "artist-42", Namespace("artists"))
		require.NoError(t, err)
		assert.Equal(t, "test:b3ab937584e283d3e27c96a6b78b19fd97f01e25", key)
	})
}

func TestInvalidateNamespace(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()
		_, err := c.Set(ctx, "artist-42", "Björk", 0, Namespace("artists"))
		require.NoError(t, err)
		_, err = c.Set(ctx, "artist-42", "unscoped", 0)
		require.NoError(t, err)

		version, err := c.InvalidateNamespace(ctx, "artists")
		assert.NoError(t, err)
		assert.Equal(t, int64(2), version)

		val, err := c.Get(ctx, "artist-42", Namespace("artists"))
		assert.NoError(t, err)
		assert.Nil(t, val)

		// other namespaces and unscoped keys are untouched
		val, err = c.Get(ctx, "artist-42")
		assert.NoError(t, err)
		assert.Equal(t, "unscoped", val)

		key, err := c.DeriveKey(ctx, "artist-42", Namespace("artists"))
		require.NoError(t, err)
		assert.Equal(t, "test:9aeb1d2694767809b96afd1756e604cabb9dd7e6", key)

		// the orphaned entry stays in the store until it expires
		old := "test:b3ab937584e283d3e27c96a6b78b19fd97f01e25"
		assert.True(t, mr.Exists(old))
	})
}

func TestInvalidateUnusedNamespace(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()
		version, err := c.InvalidateNamespace(ctx, "fresh")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), version)

		version, err = c.InvalidateNamespace(ctx, "fresh")
		assert.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})
}

func TestNamespaceVersionPersistsAcrossClients(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	first, err := New(ctx, testConfig(t, mr, DriverRedis))
	require.NoError(t, err)
	_, err = first.InvalidateNamespace(ctx, "ns")
	require.NoError(t, err)
	_, err = first.InvalidateNamespace(ctx, "ns")
	require.NoError(t, err)
	first.Close()

	second, err := New(ctx, testConfig(t, mr, DriverValkey))
	require.NoError(t, err)
	defer second.Close()
	found, version, err := second.NamespaceVersion(ctx, "ns")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(2), version)
}

func TestConcurrentInvalidate(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()
		const workers = 20

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.InvalidateNamespace(ctx, "busy")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		_, version, err := c.NamespaceVersion(ctx, "busy")
		assert.NoError(t, err)
		assert.Equal(t, int64(workers), version)
	})
}

func TestConcurrentFirstUse(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()

		var wg sync.WaitGroup
		keys := make([]string, 10)
		for i := range keys {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key, err := c.DeriveKey(ctx, "shared", Namespace("first"))
				assert.NoError(t, err)
				keys[i] = key
			}(i)
		}
		wg.Wait()

		for _, key := range keys {
			assert.Equal(t, keys[0], key)
		}
		_, version, err := c.NamespaceVersion(ctx, "first")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})
}
