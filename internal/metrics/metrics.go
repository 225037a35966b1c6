package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "docshard"
)

var (
	// LockAttemptsTotal counts try_lock outcomes.
	LockAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_attempts_total",
			Help:      "Total DistLock try_lock attempts by outcome",
		},
		[]string{"name", "outcome"}, // got/busy/error
	)

	// LockHoldSeconds measures DistLock hold duration, Got to Unlock.
	LockHoldSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_hold_seconds",
			Help:      "DistLock hold duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"name"},
	)

	// MigrationPhaseTotal counts recipient state transitions.
	MigrationPhaseTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migration_phase_total",
			Help:      "Total recipient migration phase transitions",
		},
		[]string{"phase"},
	)

	// TransferModsBytes measures the size of each transferMods batch.
	TransferModsBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transfer_mods_bytes",
			Help:      "Size in bytes of each transferMods batch",
			Buckets:   []float64{0, 1024, 16384, 262144, 1 << 20},
		},
	)

	// MoveChunkTotal counts moveChunk outcomes.
	MoveChunkTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "move_chunk_total",
			Help:      "Total moveChunk invocations by outcome",
		},
		[]string{"outcome"}, // ok/lock_busy/version_stale/recipient_failed/error
	)

	// ChunksOwned tracks the current chunk count owned per namespace.
	ChunksOwned = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_owned",
			Help:      "Number of chunks currently owned, by namespace",
		},
		[]string{"ns"},
	)

	// MemoryUsage tracks process memory usage.
	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage in bytes",
		},
		[]string{"type"}, // alloc/sys/heap_alloc/heap_sys/heap_inuse
	)

	// Info exposes build info.
	Info = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "shard daemon build info",
		},
		[]string{"version", "go_version", "os", "arch"},
	)

	// Uptime tracks process uptime.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
	)
)

// InitInfo initializes the info metric.
func InitInfo(version, goVersion, os, arch string) {
	Info.WithLabelValues(version, goVersion, os, arch).Set(1)
}
