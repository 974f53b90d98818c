package jwks

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/strongmind/rtvi-gateway/pkg/types"
)

// DefaultFreshness is the window after which a cached key set is considered
// stale and a refresh is attempted before serving further lookups.
const DefaultFreshness = time.Hour

// snapshot is one immutable fetched key set with its materialized keys.
// The cache swaps whole snapshots so readers never observe a mix of old and
// new keys.
type snapshot struct {
	set       *types.JWKS
	byKID     map[string]crypto.PublicKey
	fetchedAt time.Time
}

// Cache holds the most recently fetched key set. It is safe for concurrent
// readers during refresh. A refresh failure keeps the previous snapshot in
// place: availability over strict freshness.
type Cache struct {
	source    Source
	store     Store
	freshness time.Duration
	current   atomic.Pointer[snapshot]
	now       func() time.Time
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithStore attaches a shared snapshot store consulted on warm-up and
// written after each successful refresh.
func WithStore(store Store) CacheOption {
	return func(c *Cache) { c.store = store }
}

// WithClock overrides the cache's time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

func NewCache(source Source, freshness time.Duration, opts ...CacheOption) *Cache {
	if freshness <= 0 {
		freshness = DefaultFreshness
	}
	c := &Cache{
		source:    source,
		freshness: freshness,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// KeyForKID returns the key for the given key ID from the current snapshot
// without triggering any I/O.
func (c *Cache) KeyForKID(kid string) (crypto.PublicKey, bool) {
	snap := c.current.Load()
	if snap == nil {
		return nil, false
	}
	key, ok := snap.byKID[kid]
	return key, ok
}

// Stale reports whether the cached set is older than the freshness window.
// An empty cache is always stale.
func (c *Cache) Stale() bool {
	snap := c.current.Load()
	if snap == nil {
		return true
	}
	return c.now().Sub(snap.fetchedAt) > c.freshness
}

// Refresh replaces the cached set via the source. On failure the previous
// snapshot keeps serving.
func (c *Cache) Refresh(ctx context.Context) error {
	set, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}

	byKID, err := materializeKeys(set)
	if err != nil {
		return err
	}

	fetchedAt := c.now()
	c.current.Store(&snapshot{set: set, byKID: byKID, fetchedAt: fetchedAt})
	slog.Debug("Refreshed JWKS cache", "keys", len(byKID))

	if c.store != nil {
		if err := c.store.Save(ctx, set, fetchedAt); err != nil {
			slog.Warn("Failed to save JWKS snapshot to store", "error", err)
		}
	}

	return nil
}

// WarmFromStore seeds the cache from the shared snapshot store, if one is
// configured. A warm start avoids the first-request fetch penalty after a
// restart. Failures are non-fatal: the cache simply starts cold.
func (c *Cache) WarmFromStore(ctx context.Context) {
	if c.store == nil {
		return
	}

	set, fetchedAt, err := c.store.Load(ctx)
	if err != nil {
		slog.Warn("Failed to load JWKS snapshot from store", "error", err)
		return
	}
	if set == nil {
		return
	}

	byKID, err := materializeKeys(set)
	if err != nil {
		slog.Warn("Stored JWKS snapshot is unusable", "error", err)
		return
	}

	c.current.Store(&snapshot{set: set, byKID: byKID, fetchedAt: fetchedAt})
	slog.Info("Warmed JWKS cache from store", "keys", len(byKID), "fetchedAt", fetchedAt)
}

// materializeKeys converts the raw JWKS entries into usable public keys,
// indexed by key ID. Keys marked for non-signature use are skipped.
func materializeKeys(set *types.JWKS) (map[string]crypto.PublicKey, error) {
	byKID := make(map[string]crypto.PublicKey, len(set.Keys))
	for _, key := range set.Keys {
		if key.Use != "" && key.Use != "sig" {
			continue
		}

		pub, err := publicKeyFromJWK(key)
		if err != nil {
			return nil, fmt.Errorf("%w: key %s: %v", ErrFetchMalformed, key.KeyID, err)
		}
		if pub == nil {
			// Unsupported key type; tokens referencing it will simply not
			// resolve.
			continue
		}

		byKID[key.KeyID] = pub
	}
	return byKID, nil
}

func publicKeyFromJWK(key types.JSONWebKey) (crypto.PublicKey, error) {
	switch key.KeyType {
	case "RSA":
		nBytes, err := base64.RawURLEncoding.DecodeString(key.N)
		if err != nil {
			return nil, fmt.Errorf("failed to decode modulus: %w", err)
		}

		eBytes, err := base64.RawURLEncoding.DecodeString(key.E)
		if err != nil {
			return nil, fmt.Errorf("failed to decode exponent: %w", err)
		}

		return &rsa.PublicKey{
			N: new(big.Int).SetBytes(nBytes),
			E: int(new(big.Int).SetBytes(eBytes).Int64()),
		}, nil

	case "EC":
		var curve elliptic.Curve
		switch key.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve: %s", key.Crv)
		}

		xBytes, err := base64.RawURLEncoding.DecodeString(key.X)
		if err != nil {
			return nil, fmt.Errorf("failed to decode x coordinate: %w", err)
		}

		yBytes, err := base64.RawURLEncoding.DecodeString(key.Y)
		if err != nil {
			return nil, fmt.Errorf("failed to decode y coordinate: %w", err)
		}

		return &ecdsa.PublicKey{
			Curve: curve,
			X:     new(big.Int).SetBytes(xBytes),
			Y:     new(big.Int).SetBytes(yBytes),
		}, nil

	default:
		return nil, nil
	}
}
