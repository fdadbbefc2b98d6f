// Package cache provides a namespaced cache facade over a shared Redis or
// Valkey store, with versioned namespace invalidation.
//
// # Keys
//
// Callers address entries by logical key. [GenKey] builds a logical key from
// a base and ordered attributes:
//
//	key := cache.GenKey("recording", mbid, "en")
//
// Every logical key is hashed with SHA-1 and prefixed with the global
// namespace from [Config.Namespace], so physical keys have a fixed length
// and are byte-compatible with other brainzutils consumers of the same store.
// [Client.DeriveKey] returns the physical key of a logical key.
//
// # Namespaces
//
// Passing [Namespace] to an operation scopes its keys to a namespace whose
// current version is mixed into the physical key:
//
//	c.Set(ctx, "artist-42", artist, time.Hour, cache.Namespace("artists"))
//
// [Client.InvalidateNamespace] atomically bumps the version, which makes
// every entry written under the previous version unreachable in O(1). Old
// entries are not deleted; they are left to expiry and eviction. The
// version counters live in the same store, so every process pointed at it
// agrees on them.
//
// # Values
//
// Values are serialized with msgpack ([github.com/vmihailenco/msgpack/v5]).
// Timestamps travel as extension type 1 so payloads stay readable by the
// Python implementation. [Raw] stores bytes, strings and numbers as-is,
// which is what counters manipulated with [Client.Increment] need. [GetAs]
// converts a decoded value into a typed destination, and [Exec] is a
// cache-aside helper built on it.
//
// # Stores
//
// [New] opens one long-lived connection with go-redis
// ([github.com/redis/go-redis/v9]) or valkey-go
// ([github.com/valkey-io/valkey-go]) depending on [Config.Driver]. Other
// clients can be plugged in through [NewWithStore] and the [Store]
// interface. Every facade call runs under a per-call timeout
// ([DefaultQueryTimeout]).
//
// # Errors
//
// Setup failures satisfy [IsConfigurationError] and malformed input satisfies
// [IsValidationError]. Store replies are returned unchanged but marked, so
// errors.Is(err, [ErrNotInteger]) and errors.Is(err, [ErrOverflow]) work for
// counter operations.
package cache
