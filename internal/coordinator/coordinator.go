// Package coordinator implements the MoveChunk handoff protocol: the
// donor-side command handler that orchestrates the seven-step chunk
// ownership transfer, holding the DistLock for the duration.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docshard/docshard/internal/configstore"
	"github.com/docshard/docshard/internal/distlock"
	"github.com/docshard/docshard/internal/donor"
	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/internal/metrics"
	"github.com/docshard/docshard/pkg/chunkerrors"
	"github.com/docshard/docshard/pkg/docmodel"
)

// RecipientClient is the coordinator's view of the recipient's RPC
// surface (spec.md §4.4 steps 5-7).
type RecipientClient interface {
	RecvChunkStart(ctx context.Context, ns, from string, min, max docmodel.ShardKey) error
	RecvChunkStatus(ctx context.Context) (active bool, state string, err error)
	RecvChunkCommit(ctx context.Context) error
}

// RecipientDialer opens a RecipientClient for the given address.
type RecipientDialer func(addr string) (RecipientClient, error)

// Request is the moveChunk command's parsed argument set (spec.md §4.4
// step 1, §6 "moveChunk").
type Request struct {
	NS      string
	To      string
	From    string
	Min     docmodel.ShardKey
	Max     docmodel.ShardKey
	ShardID string
}

// Result is the moveChunk response (spec.md §6).
type Result struct {
	OK              bool
	NumDeleted      int64
	ErrMsg          string
	Who             *configstore.LockRecord
	From            string
	Official        string
	OfficialVersion uint64
	MyVersion       uint64
}

// statusPollCeiling is the ~86,400 iterations spec.md §4.4 step 6 names
// ("~1 day wall-clock ceiling") at the default DefaultStatusPollInterval.
const statusPollCeiling = 86400

// DefaultStatusPollInterval is the poll period for step 6 ("poll
// _recvChunkStatus every second").
const DefaultStatusPollInterval = time.Second

// Coordinator owns the donor-side machinery MoveChunk needs: the
// ConfigStore client, the local store, per-ns lock construction, and the
// local chunk version map spec.md §5's concurrency table names.
type Coordinator struct {
	store      configstore.ConfigStore
	local      *localstore.Store
	capture    *donor.MigrateFromStatus
	dialer     RecipientDialer
	processID  string
	pinger     *distlock.Pinger

	// StatusPollInterval overrides DefaultStatusPollInterval; tests set
	// this short to avoid real-time waits.
	StatusPollInterval time.Duration

	mu       sync.Mutex
	versions map[string]uint64 // ns -> this process's in-memory ownership version
}

// New constructs a Coordinator.
func New(store configstore.ConfigStore, local *localstore.Store, capture *donor.MigrateFromStatus, dialer RecipientDialer, processID string, pinger *distlock.Pinger) *Coordinator {
	return &Coordinator{
		store:              store,
		local:              local,
		capture:            capture,
		dialer:             dialer,
		processID:          processID,
		pinger:             pinger,
		StatusPollInterval: DefaultStatusPollInterval,
		versions:           make(map[string]uint64),
	}
}

func (c *Coordinator) version(ns string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[ns]
}

func (c *Coordinator) setVersion(ns string, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < c.versions[ns] {
		panic(fmt.Sprintf("coordinator: version for %s went backwards: %d -> %d", ns, c.versions[ns], v))
	}
	c.versions[ns] = v
}

// MoveChunk executes the seven-step handoff protocol (spec.md §4.4).
func (c *Coordinator) MoveChunk(ctx context.Context, req Request) Result {
	// Step 1: parse and validate.
	if req.NS == "" || req.To == "" || req.From == "" || req.Min.Empty() || req.Max.Empty() || req.ShardID == "" {
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: "missing or empty required field"}
	}

	// Step 2: acquire DistLock.
	reason := "migrate-" + shardKeyString(req.Min)
	lock := distlock.New(distlock.Config{Store: c.store, Name: req.NS, ProcessID: c.processID, Pinger: c.pinger})
	release, rec, err := lock.Acquire(ctx, reason)
	if err != nil {
		metrics.RecordMoveChunk("lock_busy")
		return Result{OK: false, ErrMsg: "someone else has the lock", Who: rec}
	}
	defer release()

	// Step 3: sanity check ownership.
	maxVersion, err := c.store.MaxLastmod(ctx, req.NS)
	if err != nil {
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: fmt.Sprintf("reading maxLastmod: %v", err)}
	}
	chunk, err := c.store.FindChunk(ctx, req.NS, req.ShardID)
	if err != nil {
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: fmt.Sprintf("reading chunk: %v", err)}
	}
	if chunk == nil || chunk.Shard != req.From {
		official := ""
		if chunk != nil {
			official = chunk.Shard
		}
		conflict := &chunkerrors.VersionConflict{From: req.From, Official: official}
		metrics.RecordMoveChunk("version_stale")
		return Result{OK: false, ErrMsg: conflict.Error(), From: req.From, Official: official}
	}
	if maxVersion < c.version(req.NS) {
		conflict := &chunkerrors.VersionConflict{OfficialVersion: maxVersion, MyVersion: c.version(req.NS)}
		metrics.RecordMoveChunk("version_stale")
		return Result{OK: false, ErrMsg: conflict.Error(), OfficialVersion: maxVersion, MyVersion: c.version(req.NS)}
	}

	// Step 4: open donor capture (scoped).
	if err := c.capture.Start(req.NS, req.Min, req.Max); err != nil {
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: fmt.Sprintf("starting capture: %v", err)}
	}

	recipient, err := c.dialer(req.To)
	if err != nil {
		c.capture.Done()
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: fmt.Sprintf("dialing recipient: %v", err)}
	}

	// Step 5: start recipient.
	if err := recipient.RecvChunkStart(ctx, req.NS, req.From, req.Min, req.Max); err != nil {
		c.capture.Done()
		metrics.RecordMoveChunk("recipient_failed")
		return Result{OK: false, ErrMsg: fmt.Sprintf("_recvChunkStart failed: %v", err)}
	}

	// Step 6: wait for recipient steady.
	if err := c.waitForSteady(ctx, recipient); err != nil {
		c.capture.Done()
		metrics.RecordMoveChunk("recipient_failed")
		return Result{OK: false, ErrMsg: err.Error()}
	}

	// Step 7: critical section.
	numMoved, err := c.criticalSection(ctx, req, recipient, maxVersion)
	if err != nil {
		c.capture.Done()
		metrics.RecordMoveChunk("error")
		return Result{OK: false, ErrMsg: err.Error()}
	}

	// Step 8: teardown donor capture, strictly before step 9's delete-range
	// (spec.md §4.4 orders them; d_migrate.cpp calls done() before
	// removeRange()).
	c.capture.Done()

	// Step 9: delete the migrated range locally.
	deleteRelease := c.local.Lock(req.NS)
	numDeleted := c.local.DeleteRange(req.NS, req.Min, req.Max)
	deleteRelease()

	log.Printf("coordinator: moveChunk %s [%v,%v) -> %s: deleted %d local docs, moved chunk version %d", req.NS, req.Min, req.Max, req.To, numDeleted, numMoved)
	metrics.RecordMoveChunk("ok")

	if residual, err := c.store.ChunksByShard(ctx, req.NS, req.From); err == nil {
		metrics.SetChunksOwned(req.NS, len(residual))
	}

	return Result{OK: true, NumDeleted: numDeleted}
}

func (c *Coordinator) waitForSteady(ctx context.Context, recipient RecipientClient) error {
	interval := c.StatusPollInterval
	if interval <= 0 {
		interval = DefaultStatusPollInterval
	}

	for i := 0; i < statusPollCeiling; i++ {
		active, state, err := recipient.RecvChunkStatus(ctx)
		if err != nil {
			return fmt.Errorf("_recvChunkStatus failed: %w", err)
		}
		if state == "steady" {
			return nil
		}
		if !active && state == "fail" {
			return fmt.Errorf("%w: recipient reported fail while waiting for steady", chunkerrors.ErrRecipientFailed)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return fmt.Errorf("timed out waiting for recipient steady state")
}

// criticalSection executes spec.md §4.4 step 7 and returns the version
// written for the moved chunk.
func (c *Coordinator) criticalSection(ctx context.Context, req Request, recipient RecipientClient, maxVersion uint64) (uint64, error) {
	c.capture.SetInCriticalSection(true)
	defer c.capture.SetInCriticalSection(false)

	myVersion := maxVersion + 1
	c.setVersion(req.NS, myVersion)

	if err := recipient.RecvChunkCommit(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", chunkerrors.ErrRecipientFailed, err)
	}

	updated, err := c.store.UpdateChunkOwner(ctx, req.NS, req.ShardID, req.From, req.To, myVersion)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chunkerrors.ErrCriticalSectionCommitFailed, err)
	}
	if !updated {
		return 0, fmt.Errorf("%w: chunk owner changed underneath us", chunkerrors.ErrCriticalSectionCommitFailed)
	}

	// Bump one residual chunk, or reset local version to 0 if none
	// remain on this shard (spec.md §4.4 step 7f).
	residual, err := c.store.ChunksByShard(ctx, req.NS, req.From)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chunkerrors.ErrCriticalSectionCommitFailed, err)
	}
	var highest *configstore.ChunkRecord
	for i := range residual {
		if highest == nil || residual[i].Lastmod > highest.Lastmod {
			highest = &residual[i]
		}
	}
	if highest != nil {
		bumped := myVersion + 1
		if err := c.store.UpdateChunkLastmod(ctx, req.NS, highest.ID, bumped); err != nil {
			return 0, fmt.Errorf("%w: %v", chunkerrors.ErrCriticalSectionCommitFailed, err)
		}
		c.setVersion(req.NS, bumped)
	} else {
		c.resetVersion(req.NS)
	}

	if err := c.store.AppendChangeLog(ctx, configstore.ChangeLogEntry{
		What: "moveChunk",
		NS:   req.NS,
		Details: map[string]any{
			"min":  req.Min,
			"max":  req.Max,
			"from": req.From,
			"to":   req.To,
		},
	}); err != nil {
		log.Printf("coordinator: moveChunk audit log append failed: %v", err)
	}

	return myVersion, nil
}

func (c *Coordinator) resetVersion(ns string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[ns] = 0
}

func shardKeyString(k docmodel.ShardKey) string {
	s := ""
	for i, kv := range k {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s:%v", kv.Field, kv.Value)
	}
	return s
}
