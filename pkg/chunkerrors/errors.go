// Package chunkerrors defines sentinel and structured errors shared by the
// chunk migration core.
package chunkerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the distributed lock.
var (
	// ErrLockTimeNotFound indicates the clock-skew precondition check
	// against the config store failed before any lock attempt.
	ErrLockTimeNotFound = errors.New("lockd: clock skew check failed")

	// ErrConfigStoreUnreachable indicates a config store RPC failed at
	// the transport level.
	ErrConfigStoreUnreachable = errors.New("configstore: unreachable")
)

// Sentinel errors for the migration protocol.
var (
	// ErrVersionStale indicates the donor's chunk ownership no longer
	// matches config store truth.
	ErrVersionStale = errors.New("movechunk: version is stale")

	// ErrRecipientFailed indicates the recipient reported FAIL, or an
	// RPC to the recipient failed outright.
	ErrRecipientFailed = errors.New("movechunk: recipient failed")

	// ErrCriticalSectionCommitFailed indicates the config store update
	// after _recvChunkCommit succeeded could not be applied. This is
	// the one irrecoverable state spec.md §7 calls out.
	ErrCriticalSectionCommitFailed = errors.New("movechunk: critical section commit failed")

	// ErrAlreadyActive indicates MigrateFromStatus.start or
	// MigrateStatus.prepare was called while already active.
	ErrAlreadyActive = errors.New("migrate: already active")

	// ErrNotActive indicates an operation that requires an active
	// migration was invoked without one.
	ErrNotActive = errors.New("migrate: no active migration")
)

// LockBusy is returned by DistLock.Acquire when TryLock reports the lock
// as held by another process. Record is the observed holder record,
// surfaced to callers (spec.md §6 "who").
type LockBusy struct {
	Record any
}

func (e *LockBusy) Error() string {
	return "lockd: lock is held by another process"
}

// VersionConflict carries the diagnostic fields spec.md §6 requires
// moveChunk to surface on a stale-ownership rejection.
type VersionConflict struct {
	From            string
	Official        string
	OfficialVersion uint64
	MyVersion       uint64
}

func (e *VersionConflict) Error() string {
	if e.Official != "" {
		return fmt.Sprintf("movechunk: i'm out of date: official shard is %q", e.Official)
	}
	return fmt.Sprintf("movechunk: version stale: official=%d mine=%d", e.OfficialVersion, e.MyVersion)
}

func (e *VersionConflict) Unwrap() error { return ErrVersionStale }
