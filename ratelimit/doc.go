// Package ratelimit implements fixed window rate limiting on top of the
// cache facade.
//
// Callers presenting an Authorization token accepted by the configured
// UserValidator are limited per token; everyone else is limited per client
// IP. Limits are read field by field from a route override, the stored
// limits of the route's scope, the global stored limits and finally the
// defaults (50 per token, 30 per IP, 10 second window). The stored limit
// names follow the Python brainzutils library, but the physical keys embed
// the namespace version, which this module keeps in the store and the
// Python library keeps in local files. The two only find each other's
// limits while both sides happen to be at the same version.
//
//	limiter, err := ratelimit.New(cacheClient)
//	mux.Handle("/search", limiter.Middleware(ratelimit.Scope("search"))(searchHandler))
package ratelimit
