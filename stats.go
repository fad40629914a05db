package sphinx

import (
	"sync/atomic"
	"time"
)

// PoolStats contains statistics about an engine pool.
//
// Struct is optimized to fit within a single cache line (64 bytes).
// Fields are ordered largest to smallest for optimal memory layout.
//
// The metrics package exports these as:
//   - Gauges: TotalEngines, IdleEngines, ActiveEngines
//   - Counters: AcquireCount, AcquireWaitCount, CreatedEngines, DestroyedEngines, AcquireErrors
//   - Counter: AcquireWaitTimeNs, in seconds
type PoolStats struct {
	// Lifetime counters (uint64 - 8 bytes each)
	AcquireCount      uint64 // Total acquire attempts
	AcquireWaitCount  uint64 // Acquires that had to wait
	CreatedEngines    uint64 // Total engines created
	DestroyedEngines  uint64 // Total engines destroyed
	AcquireErrors     uint64 // Failed acquire attempts
	AcquireWaitTimeNs uint64 // Total nanoseconds spent waiting

	// Current state gauges (int32 - 4 bytes each)
	TotalEngines  int32 // Engines in pool (active + idle)
	IdleEngines   int32 // Idle engines available
	ActiveEngines int32 // Engines currently running a call
	_             int32 // Padding to align to 64 bytes
}

// ClientStats contains statistics about client calls.
//
// Struct is optimized to fit within a single cache line (64 bytes).
type ClientStats struct {
	Queries    uint64 // Query calls
	Batches    uint64 // QueryBatch calls
	Optimized  uint64 // QueryOptimized calls
	SubQueries uint64 // Search queries sent, across all search calls
	Updates    uint64 // UpdateAttributes calls
	Keywords   uint64 // GetKeywords calls
	Warnings   uint64 // Calls that returned a searchd warning
	Errors     uint64 // Calls that failed
}

// poolStatsCollector provides internal methods for updating pool stats.
// Not exported - pools update their own stats.
type poolStatsCollector struct {
	stats PoolStats
}

func newPoolStatsCollector() *poolStatsCollector {
	return &poolStatsCollector{}
}

func (c *poolStatsCollector) recordAcquire() {
	atomic.AddUint64(&c.stats.AcquireCount, 1)
}

func (c *poolStatsCollector) recordAcquireWait(duration time.Duration) {
	atomic.AddUint64(&c.stats.AcquireWaitCount, 1)
	atomic.AddUint64(&c.stats.AcquireWaitTimeNs, uint64(duration.Nanoseconds()))
}

func (c *poolStatsCollector) recordCreate() {
	atomic.AddUint64(&c.stats.CreatedEngines, 1)
	atomic.AddInt32(&c.stats.TotalEngines, 1)
}

func (c *poolStatsCollector) recordDestroy() {
	atomic.AddUint64(&c.stats.DestroyedEngines, 1)
	atomic.AddInt32(&c.stats.TotalEngines, -1)
}

func (c *poolStatsCollector) recordAcquireError() {
	atomic.AddUint64(&c.stats.AcquireErrors, 1)
}

func (c *poolStatsCollector) recordAcquireFromIdle() {
	atomic.AddInt32(&c.stats.IdleEngines, -1)
	atomic.AddInt32(&c.stats.ActiveEngines, 1)
}

func (c *poolStatsCollector) recordActivate() {
	atomic.AddInt32(&c.stats.ActiveEngines, 1)
}

func (c *poolStatsCollector) recordDeactivate() {
	atomic.AddInt32(&c.stats.ActiveEngines, -1)
}

func (c *poolStatsCollector) recordIdleDestroy() {
	atomic.AddInt32(&c.stats.IdleEngines, -1)
}

func (c *poolStatsCollector) recordRelease() {
	atomic.AddInt32(&c.stats.IdleEngines, 1)
	atomic.AddInt32(&c.stats.ActiveEngines, -1)
}

func (c *poolStatsCollector) snapshot() PoolStats {
	return PoolStats{
		TotalEngines:      atomic.LoadInt32(&c.stats.TotalEngines),
		IdleEngines:       atomic.LoadInt32(&c.stats.IdleEngines),
		ActiveEngines:     atomic.LoadInt32(&c.stats.ActiveEngines),
		AcquireCount:      atomic.LoadUint64(&c.stats.AcquireCount),
		AcquireWaitCount:  atomic.LoadUint64(&c.stats.AcquireWaitCount),
		CreatedEngines:    atomic.LoadUint64(&c.stats.CreatedEngines),
		DestroyedEngines:  atomic.LoadUint64(&c.stats.DestroyedEngines),
		AcquireErrors:     atomic.LoadUint64(&c.stats.AcquireErrors),
		AcquireWaitTimeNs: atomic.LoadUint64(&c.stats.AcquireWaitTimeNs),
	}
}

// clientStatsCollector provides internal methods for updating client stats.
// Not exported - client updates its own stats.
type clientStatsCollector struct {
	stats ClientStats
}

func newClientStatsCollector() *clientStatsCollector {
	return &clientStatsCollector{}
}

func (c *clientStatsCollector) recordQuery() {
	atomic.AddUint64(&c.stats.Queries, 1)
	atomic.AddUint64(&c.stats.SubQueries, 1)
}

func (c *clientStatsCollector) recordBatch(queries int) {
	atomic.AddUint64(&c.stats.Batches, 1)
	atomic.AddUint64(&c.stats.SubQueries, uint64(queries))
}

func (c *clientStatsCollector) recordOptimized(queries int) {
	atomic.AddUint64(&c.stats.Optimized, 1)
	atomic.AddUint64(&c.stats.SubQueries, uint64(queries))
}

func (c *clientStatsCollector) recordUpdate() {
	atomic.AddUint64(&c.stats.Updates, 1)
}

func (c *clientStatsCollector) recordKeywords() {
	atomic.AddUint64(&c.stats.Keywords, 1)
}

func (c *clientStatsCollector) recordWarning() {
	atomic.AddUint64(&c.stats.Warnings, 1)
}

func (c *clientStatsCollector) recordError() {
	atomic.AddUint64(&c.stats.Errors, 1)
}

func (c *clientStatsCollector) snapshot() ClientStats {
	return ClientStats{
		Queries:    atomic.LoadUint64(&c.stats.Queries),
		Batches:    atomic.LoadUint64(&c.stats.Batches),
		Optimized:  atomic.LoadUint64(&c.stats.Optimized),
		SubQueries: atomic.LoadUint64(&c.stats.SubQueries),
		Updates:    atomic.LoadUint64(&c.stats.Updates),
		Keywords:   atomic.LoadUint64(&c.stats.Keywords),
		Warnings:   atomic.LoadUint64(&c.stats.Warnings),
		Errors:     atomic.LoadUint64(&c.stats.Errors),
	}
}
