// Package cache implements the two-tier Config Cache (C3) from spec.md
// §4.3: an L1 in-memory LRU for the hot path plus a persistent key/value
// store for the cold path, with TTL expiry and optional
// stale-while-revalidate. It is grounded on the teacher's
// internal/infrastructure/template.TwoTierTemplateCache (L1 hashicorp/
// golang-lru.Cache, L2 Redis, "L1 -> L2 -> miss" fallback chain, L2 hit
// repopulates L1) generalized from template/Redis to Config/disk-KV, and
// on publishing/lru_cache.go's expiresAt.IsZero()/time.Now().After
// TTL-on-read check.
package cache

import (
	"context"
	"encoding/json"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shoaib-customfit/cf-go-client-sdk/internal/clock"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/configmodel"
	"github.com/shoaib-customfit/cf-go-client-sdk/internal/kvstore"
)

// entriesPerMB approximates how many Config cache entries fit in a
// megabyte of the L1 tier, matching the teacher's own back-of-envelope
// sizing comment ("1000 entries, ~2MB" in template/cache.go). Used to turn
// CacheOptions.MaxCacheSizeMB into an LRU capacity.
const entriesPerMB = 500

// L1Capacity converts a configured memory budget into an LRU entry count.
// Always at least 16, so a tiny or zero budget still leaves a usable hot
// tier.
func L1Capacity(maxCacheSizeMB int) int {
	if c := maxCacheSizeMB * entriesPerMB; c > 16 {
		return c
	}
	return 16
}

// Policy is the per-call knob set spec.md §4.3 names.
type Policy struct {
	TTLSeconds           int64
	UseStaleWhileRevalidate bool
	Persist              bool
	EvictOnRestart       bool
}

// Predefined policies, per spec.md §4.3.
var (
	NoCache      = Policy{TTLSeconds: 0}
	ShortLived   = Policy{TTLSeconds: 60, Persist: true}
	Standard     = Policy{TTLSeconds: 3600, Persist: true}
	LongLived    = Policy{TTLSeconds: 24 * 3600, Persist: true}
	ConfigCacheDefault = Policy{TTLSeconds: 24 * 3600, Persist: true, UseStaleWhileRevalidate: true}
)

// Entry is the ConfigCacheEntry from spec.md §3.
type Entry struct {
	Payload      configmodel.Config `json:"payload"`
	LastModified string             `json:"last_modified,omitempty"`
	ETag         string             `json:"etag,omitempty"`
	StoredAt     int64              `json:"stored_at"`
	ExpiresAt    int64              `json:"expires_at"`
}

func (e Entry) expired(nowMs int64) bool { return nowMs >= e.ExpiresAt }

// Metrics is the optional sink for hit/miss counters. Nil-safe.
type Metrics interface {
	RecordHit(tier string)
	RecordMiss(tier string)
}

// Cache is the two-tier Config Cache. memory is the L1 hot path, an LRU
// bounded by the configured size budget (lru.Cache is itself
// thread-safe, matching the teacher's TwoTierTemplateCache which wraps
// hashicorp/golang-lru directly with no extra locking); disk is the L2
// cold path, consulted only on an L1 miss.
type Cache struct {
	memory   *lru.Cache[string, Entry]
	mu       sync.Mutex // guards diskKeys and Clear's read-modify-write of the full keyset
	disk     kvstore.Store
	diskKeys map[string]struct{} // tracks keys ever persisted, so Clear() can purge L2 fully
	clk      clock.Clock
	metrics  Metrics
}

// New constructs a Cache over the given disk store with an L1 capacity of
// capacity entries (see L1Capacity). disk may be a kvstore.MemStore if
// local_storage_enabled is false; store/load still work identically, just
// without crossing a process restart.
func New(disk kvstore.Store, clk clock.Clock, metrics Metrics, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 16
	}
	l1, err := lru.New[string, Entry](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, already guarded above.
		panic(err)
	}
	return &Cache{
		memory:   l1,
		disk:     disk,
		diskKeys: make(map[string]struct{}),
		clk:      clk,
		metrics:  metrics,
	}
}

// Store writes payload under key per policy. A non-positive TTL is a no-op,
// per spec.md §4.3 and the "ttl_seconds = 0" boundary in §8.
func (c *Cache) Store(ctx context.Context, key string, payload configmodel.Config, lastModified, etag string, policy Policy) error {
	if policy.TTLSeconds <= 0 {
		return nil
	}

	now := c.clk.MonotonicMillis()
	entry := Entry{
		Payload:      payload.Clone(),
		LastModified: lastModified,
		ETag:         etag,
		StoredAt:     now,
		ExpiresAt:    now + policy.TTLSeconds*1000,
	}

	c.memory.Add(key, entry)

	if policy.Persist && c.disk != nil {
		buf, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.diskKeys[key] = struct{}{}
		c.mu.Unlock()
		return c.disk.Set(ctx, diskKey(key), string(buf))
	}
	return nil
}

// Load returns the cached entry for key, checking memory first and then
// disk (a disk hit repopulates memory). If allowExpired is false, an
// expired entry (in either tier) is treated as a miss. If allowExpired is
// true, an expired entry is returned whole, payload included, and a disk
// record that cannot be decoded yields an empty Entry reported as found.
func (c *Cache) Load(ctx context.Context, key string, allowExpired bool) (Entry, bool) {
	now := c.clk.MonotonicMillis()

	mem, ok := c.memory.Get(key)
	if ok && (allowExpired || !mem.expired(now)) {
		c.recordHit("memory")
		return mem, true
	}

	if c.disk == nil {
		c.recordMiss("memory")
		return Entry{}, false
	}

	raw, found, err := c.disk.Get(ctx, diskKey(key))
	if err != nil || !found {
		c.recordMiss("disk")
		if allowExpired && ok {
			// Memory had a stale entry; surface its metadata with an empty
			// payload rather than nothing at all.
			return Entry{LastModified: mem.LastModified, ETag: mem.ETag}, true
		}
		return Entry{}, false
	}

	var disk Entry
	if err := json.Unmarshal([]byte(raw), &disk); err != nil {
		c.recordMiss("disk")
		if allowExpired {
			return Entry{}, true
		}
		return Entry{}, false
	}

	if !allowExpired && disk.expired(now) {
		c.recordMiss("disk")
		return Entry{}, false
	}

	c.recordHit("disk")
	c.memory.Add(key, disk)
	return disk, true
}

// Clear empties both tiers. With no keys given, every entry ever persisted
// is purged from L2 too, per spec.md §4.3 "clear(): empty both tiers" — not
// just the L1 LRU.
func (c *Cache) Clear(ctx context.Context, keys ...string) {
	c.mu.Lock()
	if len(keys) == 0 {
		c.memory.Purge()
		keys = make([]string, 0, len(c.diskKeys))
		for k := range c.diskKeys {
			keys = append(keys, k)
		}
		c.diskKeys = make(map[string]struct{})
	} else {
		for _, k := range keys {
			c.memory.Remove(k)
			delete(c.diskKeys, k)
		}
	}
	c.mu.Unlock()

	if c.disk == nil {
		return
	}
	for _, k := range keys {
		_ = c.disk.Remove(ctx, diskKey(k))
	}
}

func (c *Cache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.RecordHit(tier)
	}
}

func (c *Cache) recordMiss(tier string) {
	if c.metrics != nil {
		c.metrics.RecordMiss(tier)
	}
}

func diskKey(key string) string { return "cf_cached_config:" + key }

// Cache keys named after the two persisted records. Store writes a key to
// disk under diskKey(key), i.e. with the "cf_cached_config:" prefix. The
// Config Manager stores under ConfigDataKey, with the metadata carried
// inside the Entry; nothing in the SDK stores under ConfigMetadataKey.
const (
	ConfigDataKey     = "cf_cached_config_data"
	ConfigMetadataKey = "cf_cached_config_metadata"
)
