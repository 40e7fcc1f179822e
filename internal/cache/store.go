// Package cache stores analysis results in Redis so identical texts analyzed
// under the same engine settings are answered without rescanning:
//
//	Key:   modcache:<ruleset version>:<max length>:<context width>:<sha256(text)>
//	Value: JSON-encoded moderation.Result
//	TTL:   cache lifetime
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/moderation/internal/moderation"
)

const (
	// KeyPrefix is the Redis key prefix for cached results.
	KeyPrefix = "modcache:"

	// DefaultTTL is how long a cached result lives.
	DefaultTTL = 10 * time.Minute
)

// Store caches results in Redis.
type Store struct {
	client redis.Cmdable
	scope  string
	ttl    time.Duration
}

// NewStore creates a cache for results produced under scope, normally
// moderation.Engine.Scope. A non-positive ttl selects DefaultTTL.
func NewStore(client redis.Cmdable, scope string, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, scope: scope, ttl: ttl}
}

// Key returns the Redis key for text. Changing the ruleset version, input
// bound or context width changes every key, so processes configured
// differently never read each other's verdicts.
func (s *Store) Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return KeyPrefix + s.scope + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached result for text. A miss returns (nil, false, nil).
// Redis errors are returned so callers can decide how to handle them (the
// recommended policy is fail-open).
func (s *Store) Get(ctx context.Context, text string) (*moderation.Result, bool, error) {
	data, err := s.client.Get(ctx, s.Key(text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}

	var res moderation.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("cache: decode: %w", err)
	}
	// The key is a hash; guard against a collision or a foreign writer.
	if res.Text != text {
		return nil, false, nil
	}
	if res.Flags == nil {
		res.Flags = []moderation.Flag{}
	}
	return &res, true, nil
}

// Put stores res under its text with the store's TTL.
func (s *Store) Put(ctx context.Context, res *moderation.Result) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("cache: encode: %w", err)
	}
	if err := s.client.Set(ctx, s.Key(res.Text), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}
