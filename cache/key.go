package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the longest physical key the cache will produce.
	MaxKeyLength = 250
	// SHA1Length is the length of the hex fingerprint appended to the global prefix.
	SHA1Length = 40

	versionKeyMarker = "ns:"
)

// GenKey generates a logical key from a base value and ordered attributes.
// Values are stringified, non-ASCII characters are replaced by numeric
// character references and spaces become underscores.
func GenKey(key any, attributes ...any) string {
	var sb strings.Builder
	sb.WriteString(asciiEscape(fmt.Sprint(key)))
	for _, attr := range attributes {
		sb.WriteByte('_')
		sb.WriteString(asciiEscape(fmt.Sprint(attr)))
	}
	return strings.ReplaceAll(sb.String(), " ", "_")
}

// asciiEscape replaces every rune outside ASCII with &#NNNN;.
func asciiEscape(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if r < utf8.RuneSelf {
			sb.WriteRune(r)
			continue
		}
		sb.WriteString("&#")
		sb.WriteString(strconv.Itoa(int(r)))
		sb.WriteByte(';')
	}
	return sb.String()
}

func fingerprint(s string) string {
	sum := sha1.Sum([]byte(asciiEscape(s)))
	return hex.EncodeToString(sum[:])
}

// globalPrefix returns the prefix prepended to every physical key.
func globalPrefix(namespace string) (string, error) {
	prefix := asciiEscape(namespace) + ":"
	if len(prefix)+len(versionKeyMarker)+SHA1Length > MaxKeyLength {
		return "", ErrPrefixTooLong
	}
	return prefix, nil
}

// prepKey derives the physical key for a logical key. nsVersion is the
// "{namespace}:{version}" pair or empty when the key is not namespaced.
func (c *Client) prepKey(key string, nsVersion string) string {
	if nsVersion != "" {
		key = nsVersion + ":" + key
	}
	return c.prefix + fingerprint(key)
}

func (c *Client) versionKey(namespace string) string {
	return c.prefix + versionKeyMarker + fingerprint(namespace)
}
