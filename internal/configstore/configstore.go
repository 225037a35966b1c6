// Package configstore models the replicated configuration cluster spec.md
// §3/§4.1 describes: the locks/lockpings collections DistLock is built on,
// and the chunks/changelog collections the coordinator reads and writes.
// Record CRUD on this store is an out-of-scope external collaborator per
// spec.md §1; ConfigStore is the interface that collaborator must satisfy,
// with an in-memory implementation for tests and a BadgerDB-backed
// implementation for the daemon.
package configstore

import (
	"context"
	"time"

	"github.com/docshard/docshard/pkg/docmodel"
)

// LockState is the state of a lock record (spec.md §3).
type LockState int

const (
	LockFree      LockState = 0
	LockContested LockState = 1
	LockHeld      LockState = 2
)

// LockRecord is the `locks` collection schema (spec.md §3). Field names are
// wire-stable per spec.md §6.
type LockRecord struct {
	Name    string
	State   LockState
	TS      string
	Process string
	When    time.Time
	Who     string
	Why     string
}

// PingRecord is the `lockpings` collection schema.
type PingRecord struct {
	ProcessID string
	Ping      time.Time
}

// ChunkRecord is the chunk ownership record (spec.md §3).
type ChunkRecord struct {
	ID      string
	NS      string
	Min     docmodel.ShardKey
	Max     docmodel.ShardKey
	Shard   string
	Lastmod uint64
}

// ChangeLogEntry is one audit record appended on a successful moveChunk
// (spec.md §4.4 step 7, §6 "Config audit").
type ChangeLogEntry struct {
	What    string
	NS      string
	Details map[string]any
	Time    time.Time
}

// ConfigStore is the replicated configuration cluster's client interface.
// Every conditional update here must be atomic at the store and, on a
// replicated store, majority-acknowledged before it is considered durable
// (spec.md §4.1 step 4); both implementations in this package are
// single-node and therefore satisfy that bound trivially.
type ConfigStore interface {
	// Now returns the config store's own wall-clock time, used by the
	// clock-skew precondition and by lock acquisition/staleness checks.
	Now(ctx context.Context) (time.Time, error)

	// FindLock returns the current record for name, or nil if absent.
	FindLock(ctx context.Context, name string) (*LockRecord, error)

	// ClaimLock attempts the conditional claim of spec.md §4.1 step 4:
	// it succeeds iff the current record is absent, free, or held with
	// ts == expectedTS, in which case it is overwritten with claim.
	ClaimLock(ctx context.Context, name string, expectedTS string, claim LockRecord) (bool, error)

	// ReleaseLock attempts the conditional release of spec.md §4.1
	// "unlock()": it succeeds iff the current record's ts == expectedTS,
	// and is a silent no-op otherwise (the lock was already stolen).
	ReleaseLock(ctx context.Context, name string, expectedTS string) error

	// FindPing returns the liveness record for processID, or nil if
	// this process has never pinged.
	FindPing(ctx context.Context, processID string) (*PingRecord, error)

	// UpsertPing writes processID's latest liveness timestamp.
	UpsertPing(ctx context.Context, processID string, at time.Time) error

	// MaxLastmod returns the highest lastmod across every chunk of ns.
	MaxLastmod(ctx context.Context, ns string) (uint64, error)

	// FindChunk returns the chunk record identified by chunkID within
	// ns, or nil if absent.
	FindChunk(ctx context.Context, ns, chunkID string) (*ChunkRecord, error)

	// ChunksByShard returns every chunk of ns currently owned by shard.
	ChunksByShard(ctx context.Context, ns, shard string) ([]ChunkRecord, error)

	// UpdateChunkOwner performs the critical-section ownership flip
	// (spec.md §4.4 step 7c): it succeeds iff chunkID's current shard
	// equals expectedShard, atomically setting shard=newShard and
	// lastmod=newLastmod.
	UpdateChunkOwner(ctx context.Context, ns, chunkID, expectedShard, newShard string, newLastmod uint64) (bool, error)

	// UpdateChunkLastmod bumps a residual chunk's lastmod (spec.md §4.4
	// step 7d), unconditional on the chunk's current shard.
	UpdateChunkLastmod(ctx context.Context, ns, chunkID string, newLastmod uint64) error

	// AppendChangeLog appends one audit entry.
	AppendChangeLog(ctx context.Context, entry ChangeLogEntry) error
}
