package metrics

import (
	"runtime"
	"sync"
	"time"
)

// Collector collects periodic process metrics not already tracked by
// counters/histograms recorded inline at call sites.
type Collector struct {
	startTime time.Time
	mu        sync.RWMutex
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
	}
}

// Collect collects periodic metrics.
func (c *Collector) Collect() {
	c.collectMemory()
	c.collectUptime()
}

func (c *Collector) collectMemory() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryUsage.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}

func (c *Collector) collectUptime() {
	Uptime.Set(time.Since(c.startTime).Seconds())
}

// RecordLockAttempt records a DistLock try_lock outcome.
func RecordLockAttempt(name, outcome string) {
	LockAttemptsTotal.WithLabelValues(name, outcome).Inc()
}

// RecordLockHold records the duration a DistLock was held.
func RecordLockHold(name string, d time.Duration) {
	LockHoldSeconds.WithLabelValues(name).Observe(d.Seconds())
}

// RecordMigrationPhase records a recipient state transition.
func RecordMigrationPhase(phase string) {
	MigrationPhaseTotal.WithLabelValues(phase).Inc()
}

// RecordTransferModsBytes records the size of one transferMods batch.
func RecordTransferModsBytes(n int) {
	TransferModsBytes.Observe(float64(n))
}

// RecordMoveChunk records a moveChunk outcome.
func RecordMoveChunk(outcome string) {
	MoveChunkTotal.WithLabelValues(outcome).Inc()
}

// SetChunksOwned sets the current chunk count for ns.
func SetChunksOwned(ns string, n int) {
	ChunksOwned.WithLabelValues(ns).Set(float64(n))
}
