package jwks

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownKey means no published key matches the requested key ID, even
// after a forced refetch.
var ErrUnknownKey = errors.New("no key found for kid")

// Resolver answers key lookups by key ID against the cache, refreshing it
// when stale and, reactively, when a requested kid is absent. The reactive
// refresh happens at most once per lookup so a flood of requests carrying a
// bogus kid costs one extra fetch each, never a loop.
type Resolver struct {
	cache *Cache
}

func NewResolver(cache *Cache) *Resolver {
	return &Resolver{cache: cache}
}

// Resolve returns the public key for the given key ID. A key rotated into
// the JWKS becomes resolvable within one extra round trip; worst-case I/O is
// two fetch attempts per call.
func (r *Resolver) Resolve(ctx context.Context, kid string) (crypto.PublicKey, error) {
	refreshed := false
	if r.cache.Stale() {
		if err := r.cache.Refresh(ctx); err != nil {
			// Keep serving the stale set rather than failing the request.
			slog.Warn("JWKS refresh failed, serving cached keys", "error", err)
		} else {
			refreshed = true
		}
	}

	if key, ok := r.cache.KeyForKID(kid); ok {
		return key, nil
	}

	if !refreshed {
		if err := r.cache.Refresh(ctx); err != nil {
			slog.Warn("Forced JWKS refetch failed", "kid", kid, "error", err)
		}
		if key, ok := r.cache.KeyForKID(kid); ok {
			return key, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownKey, kid)
}
