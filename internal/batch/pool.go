// Package batch implements the WriteBatch wire format for atomic writes.
//
// This file pools WriteBatch allocations for DBImpl.Put/Delete, which each
// build and discard a one-off batch per call; reusing the backing buffer
// avoids an allocation on every single-key write.
package batch

import "sync"

// WriteBatchPool recycles WriteBatch buffers across single-key Put/Delete
// calls. Batches larger than DefaultMaxBatchSize are not returned to the
// pool, so one oversized write can't pin a large buffer in the pool
// indefinitely.
//
// Usage:
//
//	wb := pool.Get()
//	defer pool.Put(wb)
//	wb.Put(key, value)
//	db.Write(nil, wb)
type WriteBatchPool struct {
	pool sync.Pool

	mu    sync.Mutex
	stats PoolStats
}

// PoolStats tracks pool usage, exposed for tests and diagnostics.
type PoolStats struct {
	Gets      uint64
	Hits      uint64
	Misses    uint64
	Puts      uint64
	Discarded uint64
}

// DefaultMaxBatchSize bounds how large a batch's buffer can be and still be
// returned to the pool; larger buffers are left for the GC instead.
const DefaultMaxBatchSize = 4 * 1024 * 1024 // 4MB

// NewWriteBatchPool creates an empty WriteBatchPool.
func NewWriteBatchPool() *WriteBatchPool {
	return &WriteBatchPool{
		pool: sync.Pool{New: func() any { return New() }},
	}
}

// Get returns a cleared WriteBatch, allocating one if the pool is empty.
func (p *WriteBatchPool) Get() *WriteBatch {
	wb, ok := p.pool.Get().(*WriteBatch)
	if !ok {
		wb = New()
	}

	p.mu.Lock()
	p.stats.Gets++
	if cap(wb.data) > HeaderSize {
		p.stats.Hits++
	} else {
		p.stats.Misses++
	}
	p.mu.Unlock()

	wb.Clear()
	return wb
}

// Put returns wb to the pool once the caller is done with it. Batches whose
// buffer grew past DefaultMaxBatchSize are dropped instead of pooled.
func (p *WriteBatchPool) Put(wb *WriteBatch) {
	if wb == nil {
		return
	}

	p.mu.Lock()
	p.stats.Puts++
	if cap(wb.data) > DefaultMaxBatchSize {
		p.stats.Discarded++
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	wb.Clear()
	p.pool.Put(wb)
}

// Stats returns a snapshot of the pool's usage counters.
func (p *WriteBatchPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// ResetStats zeroes the pool's usage counters.
func (p *WriteBatchPool) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = PoolStats{}
}

// HitRate returns the fraction of Get calls that reused a pooled batch.
func (s *PoolStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

var defaultPool = NewWriteBatchPool()

// GlobalPool returns the process-wide WriteBatch pool DBImpl.Put/Delete use.
func GlobalPool() *WriteBatchPool {
	return defaultPool
}

// GetFromPool gets a batch from the global pool.
func GetFromPool() *WriteBatch {
	return defaultPool.Get()
}

// ReturnToPool returns a batch to the global pool.
func ReturnToPool(wb *WriteBatch) {
	defaultPool.Put(wb)
}
