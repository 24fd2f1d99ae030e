// Package resultcache memoizes finished retrievals keyed by query.
package resultcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/artsearch/internal/db"
	"github.com/kailas-cloud/artsearch/internal/domain/search/result"
)

// store is the consumer interface for the shared tier.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Options configure a Cache.
type Options struct {
	Size      int
	TTL       time.Duration
	KeyPrefix string
	// CacheTotal is a counter vec with label "result" ("hit"/"miss").
	CacheTotal *prometheus.CounterVec
}

// Cache is an expiring in-process LRU, optionally backed by a shared store.
type Cache struct {
	memory *expirable.LRU[string, result.Snapshot]
	store  store
	opts   Options
	logger *zap.Logger
}

// New creates a cache. s may be nil.
func New(s store, opts Options, logger *zap.Logger) *Cache {
	return &Cache{
		memory: expirable.NewLRU[string, result.Snapshot](opts.Size, nil, opts.TTL),
		store:  s,
		opts:   opts,
		logger: logger,
	}
}

// Get returns the snapshot stored for key.
func (c *Cache) Get(ctx context.Context, key string) (result.Snapshot, bool) {
	if snap, ok := c.memory.Get(key); ok {
		c.inc("hit")
		return snap, true
	}
	if snap, ok := c.getFromStore(ctx, key); ok {
		c.memory.Add(key, snap)
		c.inc("hit")
		return snap, true
	}
	c.inc("miss")
	return result.Snapshot{}, false
}

// Put stores a snapshot. Store failures are logged, not returned.
func (c *Cache) Put(ctx context.Context, key string, snap result.Snapshot) {
	c.memory.Add(key, snap)
	if c.store == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("Failed to encode cached result", zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, c.storeKey(key), data, c.opts.TTL); err != nil {
		c.logger.Warn("Failed to cache result", zap.String("key", c.storeKey(key)), zap.Error(err))
	}
}

// Len returns the number of in-process entries.
func (c *Cache) Len() int { return c.memory.Len() }

func (c *Cache) getFromStore(ctx context.Context, key string) (result.Snapshot, bool) {
	if c.store == nil {
		return result.Snapshot{}, false
	}
	data, err := c.store.Get(ctx, c.storeKey(key))
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached result", zap.Error(err))
		}
		return result.Snapshot{}, false
	}
	var snap result.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("Failed to decode cached result", zap.Error(err))
		return result.Snapshot{}, false
	}
	return snap, true
}

func (c *Cache) storeKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return c.opts.KeyPrefix + "result_cache:" + hex.EncodeToString(h[:])
}

func (c *Cache) inc(label string) {
	if c.opts.CacheTotal != nil {
		c.opts.CacheTotal.WithLabelValues(label).Inc()
	}
}
