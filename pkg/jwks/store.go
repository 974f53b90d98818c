package jwks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/strongmind/rtvi-gateway/pkg/config"
	"github.com/strongmind/rtvi-gateway/pkg/types"
)

// Store is an optional shared tier under the in-process cache. It lets a
// restarted gateway start with the last known key set instead of a cold
// cache. It is never authoritative: staleness is still judged by fetchedAt.
type Store interface {
	Load(ctx context.Context) (*types.JWKS, time.Time, error)
	Save(ctx context.Context, set *types.JWKS, fetchedAt time.Time) error
}

// NewStore creates a snapshot store based on the configuration. A nil store
// means no shared tier is configured.
func NewStore(cfg *config.Cache) (Store, error) {
	if cfg == nil {
		return nil, nil
	}

	switch cfg.Store {
	case "", "none":
		return nil, nil

	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("redis address is required for the redis store")
		}
		return NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), cfg.RedisKeyPrefix), nil

	default:
		return nil, fmt.Errorf("unsupported store type: %s", cfg.Store)
	}
}

// storeTTL garbage-collects abandoned snapshots. Freshness is decided by the
// cache from fetchedAt, not by this expiry.
const storeTTL = 24 * time.Hour

// storedSnapshot is the JSON structure persisted in the store.
type storedSnapshot struct {
	Set       *types.JWKS `json:"set"`
	FetchedAt time.Time   `json:"fetched_at"`
}

// RedisStore keeps the snapshot as one JSON value under a prefixed key.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "rtvi:jwks:"
	}
	return &RedisStore{
		client: client,
		key:    keyPrefix + "snapshot",
	}
}

func (s *RedisStore) Load(ctx context.Context) (*types.JWKS, time.Time, error) {
	result := s.client.Get(ctx, s.key)
	if result.Err() != nil {
		if result.Err() == redis.Nil {
			return nil, time.Time{}, nil
		}
		return nil, time.Time{}, fmt.Errorf("failed to get key %s: %w", s.key, result.Err())
	}

	var snap storedSnapshot
	if err := json.Unmarshal([]byte(result.Val()), &snap); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to unmarshal stored snapshot: %w", err)
	}

	return snap.Set, snap.FetchedAt, nil
}

func (s *RedisStore) Save(ctx context.Context, set *types.JWKS, fetchedAt time.Time) error {
	data, err := json.Marshal(storedSnapshot{Set: set, FetchedAt: fetchedAt})
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if err := s.client.Set(ctx, s.key, data, storeTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", s.key, err)
	}

	return nil
}
