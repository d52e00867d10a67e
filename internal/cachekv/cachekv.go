// Package cachekv wraps a ristretto-backed gocache store behind a tiny
// generic KV interface, the same stack the teacher uses for its resource
// cache (eko/gocache/lib/v4 over dgraph-io/ristretto). It is used for things
// that are allowed to be eventually-consistent and process-local: the quota
// status() snapshot, the isbn_not_found negative-result cache, and the
// scheduler's backfill cursors. Provider rate limits are not kept here.
package cachekv

import (
	"context"
	"time"

	ristrettostore "github.com/eko/gocache/store/ristretto/v4"

	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
)

// KV is a minimal TTL-aware key/value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string) error
}

// Local is an in-process KV backed by ristretto. It holds up to the given
// number of counters/max cost, matching the teacher's cache sizing style of
// tying capacity to available memory (see main.go's automemlimit wiring).
type Local struct {
	cache *gocache.Cache[[]byte]
}

// New creates a new ristretto-backed Local cache with the given approximate
// max cost in bytes.
func New(maxCost int64) (*Local, error) {
	r, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxCost / 100 * 10, // ~10 counters per expected 100-byte entry
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	store := ristrettostore.NewRistretto(r)
	return &Local{cache: gocache.New[[]byte](store)}, nil
}

// Get returns the cached value, or false if it's absent or expired.
func (l *Local) Get(ctx context.Context, key string) ([]byte, bool) {
	v, err := l.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Set stores a value with the given TTL.
func (l *Local) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	_ = l.cache.Set(ctx, key, value, store.WithExpiration(ttl))
}

// Delete removes a key.
func (l *Local) Delete(ctx context.Context, key string) error {
	return l.cache.Delete(ctx, key)
}

var _ KV = (*Local)(nil)
