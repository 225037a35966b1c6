package metrics

import (
	"testing"
	"time"
)

func TestMetricsRecording(t *testing.T) {
	RecordLockAttempt("ns.chunks", "got")
	RecordLockHold("ns.chunks", 5*time.Millisecond)
	RecordMigrationPhase("clone")
	RecordTransferModsBytes(1024)
	RecordMoveChunk("ok")
	SetChunksOwned("test.coll", 3)

	c := NewCollector()
	c.Collect()

	// The prometheus registry is process-global; asserting on exact
	// values would require parsing /metrics output. Exercising every
	// recorder without a panic is the useful signal here.
}
