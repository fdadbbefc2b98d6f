package cache

import (
	"context"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenKey(t *testing.T) {
	assert.Equal(t, "key", GenKey("key"))
	assert.Equal(t, "key_1_2", GenKey("key", 1, 2))
	assert.Equal(t, "some_key_with_spaces", GenKey("some key", "with spaces"))
	assert.Equal(t, "&#1055;&#1088;&#1080;&#1074;&#1077;&#1090;_1.5", GenKey("Привет", 1.5))
	assert.Equal(t, "key_true_<nil>", GenKey("key", true, nil))
}

func TestASCIIEscape(t *testing.T) {
	assert.Equal(t, "plain", asciiEscape("plain"))
	assert.Equal(t, "caf&#233;", asciiEscape("café"))
	assert.Equal(t, "&#128512;", asciiEscape("😀"))
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t, "a62f2225bf70bfaccbc7f1ef2a397836717377de", fingerprint("key"))
	assert.Equal(t, "6a005d2a09bc01af1ff2ce61c54f600c20127d50", fingerprint("Привет"))
	assert.Len(t, fingerprint(strings.Repeat("x", 1000)), SHA1Length)
}

func TestGlobalPrefix(t *testing.T) {
	prefix, err := globalPrefix("test")
	assert.NoError(t, err)
	assert.Equal(t, "test:", prefix)

	prefix, err = globalPrefix("")
	assert.NoError(t, err)
	assert.Equal(t, ":", prefix)

	longest := strings.Repeat("a", MaxKeyLength-len(versionKeyMarker)-SHA1Length-1)
	_, err = globalPrefix(longest)
	assert.NoError(t, err)

	_, err = globalPrefix(longest + "a")
	assert.ErrorIs(t, err, ErrPrefixTooLong)
}

func TestDeriveKey(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		ctx := context.Background()

		key, err := c.DeriveKey(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, "test:a62f2225bf70bfaccbc7f1ef2a397836717377de", key)
		assert.LessOrEqual(t, len(key), MaxKeyLength)

		again, err := c.DeriveKey(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, key, again)

		key, err = c.DeriveKey(ctx, "key", Namespace("ns"))
		require.NoError(t, err)
		assert.Equal(t, "test:6135b20a7299374a6753de1a910715472133c4bd", key)

		key, err = c.DeriveKey(ctx, strings.Repeat("long", 500))
		require.NoError(t, err)
		assert.Len(t, key, len("test:")+SHA1Length)
	})
}

func TestVersionKey(t *testing.T) {
	forEachDriver(t, func(t *testing.T, mr *miniredis.Miniredis, c *Client) {
		assert.Equal(t, "test:ns:cf6630c3b802f479e325931c597c40264940332b", c.versionKey("artists"))
	})
}
