// Package cache implements the block cache table/reader.go consults before
// going to disk for a data, index, or filter block: an LRU eviction policy
// with either a single lock-protected table or, for higher read
// concurrency, several independently-locked shards.
//
// Reference: RocksDB v10.7.5
//   - cache/lru_cache.h
//   - cache/lru_cache.cc
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// Cache is implemented by both LRUCache and ShardedLRUCache so table.Reader
// doesn't need to know which one backs a given Options.BlockCache.
type Cache interface {
	// Insert adds value under key, evicting older entries if charge would
	// push the cache over capacity, and returns a handle pinning it.
	Insert(key CacheKey, value []byte, charge uint64) *Handle

	// Lookup returns a pinned handle for key, or nil if absent.
	Lookup(key CacheKey) *Handle

	// Release unpins a handle obtained from Insert or Lookup. Callers must
	// release every handle they acquire.
	Release(handle *Handle)

	// Erase drops key; the entry is actually freed once its last handle is
	// released, so an in-flight read isn't invalidated out from under it.
	Erase(key CacheKey)

	SetCapacity(capacity uint64)
	GetCapacity() uint64
	GetUsage() uint64
	GetPinnedUsage() uint64
	GetOccupancyCount() uint64
	Close()
}

// CacheKey identifies one cached block by the SST file it came from and its
// byte offset within that file.
type CacheKey struct {
	FileNumber  uint64
	BlockOffset uint64
}

// Handle pins a cached entry in memory for as long as the holder needs it.
type Handle struct {
	key     CacheKey
	value   []byte
	charge  uint64
	refs    int32
	deleted bool
}

// Value returns the cached block data.
func (h *Handle) Value() []byte { return h.value }

// Charge returns the memory charge of this entry.
func (h *Handle) Charge() uint64 { return h.charge }

// LRUCache is a single-shard, mutex-protected LRU cache.
type LRUCache struct {
	mu       sync.RWMutex
	capacity uint64
	usage    uint64
	table    map[CacheKey]*list.Element
	lru      *list.List // front = most recently used

	hits   atomic.Uint64
	misses atomic.Uint64
}

type lruEntry struct {
	handle *Handle
}

func entryOf(elem *list.Element) *lruEntry {
	entry, _ := elem.Value.(*lruEntry)
	return entry
}

// NewLRUCache creates a cache with the given byte capacity.
func NewLRUCache(capacity uint64) *LRUCache {
	return &LRUCache{
		capacity: capacity,
		table:    make(map[CacheKey]*list.Element),
		lru:      list.New(),
	}
}

// Insert adds or replaces the cached value for key.
func (c *LRUCache) Insert(key CacheKey, value []byte, charge uint64) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		entry := entryOf(elem)
		c.usage += charge - entry.handle.charge
		entry.handle.value = value
		entry.handle.charge = charge
		entry.handle.refs++
		c.lru.MoveToFront(elem)
		return entry.handle
	}

	for c.usage+charge > c.capacity && c.lru.Len() > 0 {
		c.evictOne()
	}

	handle := &Handle{key: key, value: value, charge: charge, refs: 1}
	elem := c.lru.PushFront(&lruEntry{handle: handle})
	c.table[key] = elem
	c.usage += charge
	return handle
}

// Lookup returns a pinned handle for key, tracking the hit/miss for
// GetHitRate.
func (c *LRUCache) Lookup(key CacheKey) *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.table[key]; ok {
		entry := entryOf(elem)
		if !entry.handle.deleted {
			c.lru.MoveToFront(elem)
			entry.handle.refs++
			c.hits.Add(1)
			return entry.handle
		}
	}
	c.misses.Add(1)
	return nil
}

// Release unpins handle, freeing it immediately if Erase already marked it
// deleted and this was the last reference.
func (c *LRUCache) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	handle.refs--
	if handle.refs == 0 && handle.deleted {
		c.removeHandle(handle)
	}
}

// Erase marks key for removal, freeing it immediately if nothing holds a
// handle to it.
func (c *LRUCache) Erase(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.table[key]
	if !ok {
		return
	}
	entry := entryOf(elem)
	entry.handle.deleted = true
	if entry.handle.refs == 0 {
		c.removeHandle(entry.handle)
	}
}

// SetCapacity changes the cache's byte capacity, evicting immediately if
// the new capacity is below current usage.
func (c *LRUCache) SetCapacity(capacity uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.capacity = capacity
	for c.usage > c.capacity && c.lru.Len() > 0 {
		c.evictOne()
	}
}

func (c *LRUCache) GetCapacity() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capacity
}

func (c *LRUCache) GetUsage() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.usage
}

// GetPinnedUsage returns the total charge of entries with an outstanding
// handle — the portion SetCapacity can't evict even under memory pressure.
func (c *LRUCache) GetPinnedUsage() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var pinned uint64
	for _, elem := range c.table {
		if entry := entryOf(elem); entry.handle.refs > 0 {
			pinned += entry.handle.charge
		}
	}
	return pinned
}

func (c *LRUCache) GetOccupancyCount() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.table))
}

// Close discards every entry regardless of pinning; callers must not hold
// handles across a Close.
func (c *LRUCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.table = make(map[CacheKey]*list.Element)
	c.lru.Init()
	c.usage = 0
}

func (c *LRUCache) GetHitCount() uint64  { return c.hits.Load() }
func (c *LRUCache) GetMissCount() uint64 { return c.misses.Load() }

func (c *LRUCache) GetHitRate() float64 {
	return hitRate(c.hits.Load(), c.misses.Load())
}

func hitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// evictOne evicts the least-recently-used unpinned, non-deleted entry.
// Requires mu held. A no-op if every entry is currently pinned.
func (c *LRUCache) evictOne() {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		entry := entryOf(e)
		if entry.handle.refs == 0 && !entry.handle.deleted {
			c.removeEntry(e)
			return
		}
	}
}

// removeEntry requires mu held.
func (c *LRUCache) removeEntry(elem *list.Element) {
	entry := entryOf(elem)
	delete(c.table, entry.handle.key)
	c.lru.Remove(elem)
	c.usage -= entry.handle.charge
}

// removeHandle requires mu held.
func (c *LRUCache) removeHandle(handle *Handle) {
	if elem, ok := c.table[handle.key]; ok {
		c.removeEntry(elem)
	}
}

// ShardedLRUCache spreads entries across several independently-locked
// LRUCache shards, keyed by a hash of CacheKey, to cut lock contention
// under concurrent SST reads.
type ShardedLRUCache struct {
	shards    []*LRUCache
	numShards uint64
}

// NewShardedLRUCache creates a cache split across numShards shards (rounded
// up to the next power of two; 16 if numShards <= 0), each sized to an
// equal fraction of capacity.
func NewShardedLRUCache(capacity uint64, numShards int) *ShardedLRUCache {
	if numShards <= 0 {
		numShards = 16
	}
	numShards = nextPowerOf2(numShards)

	shardCapacity := capacity / uint64(numShards)
	if shardCapacity == 0 {
		shardCapacity = 1
	}

	c := &ShardedLRUCache{
		shards:    make([]*LRUCache, numShards),
		numShards: uint64(numShards),
	}
	for i := range numShards {
		c.shards[i] = NewLRUCache(shardCapacity)
	}
	return c
}

func nextPowerOf2(n int) int {
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n++
	return n
}

func (c *ShardedLRUCache) shard(key CacheKey) *LRUCache {
	h := key.FileNumber ^ (key.BlockOffset * 0x9E3779B9)
	return c.shards[h%c.numShards]
}

func (c *ShardedLRUCache) Insert(key CacheKey, value []byte, charge uint64) *Handle {
	return c.shard(key).Insert(key, value, charge)
}

func (c *ShardedLRUCache) Lookup(key CacheKey) *Handle {
	return c.shard(key).Lookup(key)
}

func (c *ShardedLRUCache) Release(handle *Handle) {
	if handle == nil {
		return
	}
	c.shard(handle.key).Release(handle)
}

func (c *ShardedLRUCache) Erase(key CacheKey) {
	c.shard(key).Erase(key)
}

func (c *ShardedLRUCache) SetCapacity(capacity uint64) {
	shardCapacity := capacity / c.numShards
	if shardCapacity == 0 {
		shardCapacity = 1
	}
	for _, s := range c.shards {
		s.SetCapacity(shardCapacity)
	}
}

// sumShards totals get(shard) across every shard; every aggregate stat
// (capacity, usage, hit/miss counts) is a sum over shards, so they all
// route through this instead of repeating the loop.
func (c *ShardedLRUCache) sumShards(get func(*LRUCache) uint64) uint64 {
	var total uint64
	for _, s := range c.shards {
		total += get(s)
	}
	return total
}

func (c *ShardedLRUCache) GetCapacity() uint64 {
	return c.sumShards((*LRUCache).GetCapacity)
}

func (c *ShardedLRUCache) GetUsage() uint64 {
	return c.sumShards((*LRUCache).GetUsage)
}

func (c *ShardedLRUCache) GetPinnedUsage() uint64 {
	return c.sumShards((*LRUCache).GetPinnedUsage)
}

func (c *ShardedLRUCache) GetOccupancyCount() uint64 {
	return c.sumShards((*LRUCache).GetOccupancyCount)
}

func (c *ShardedLRUCache) GetHitCount() uint64 {
	return c.sumShards((*LRUCache).GetHitCount)
}

func (c *ShardedLRUCache) GetMissCount() uint64 {
	return c.sumShards((*LRUCache).GetMissCount)
}

func (c *ShardedLRUCache) GetHitRate() float64 {
	return hitRate(c.GetHitCount(), c.GetMissCount())
}

// Close closes every shard; callers must not hold handles across a Close.
func (c *ShardedLRUCache) Close() {
	for _, s := range c.shards {
		s.Close()
	}
}
