// Package distlock implements the lease-based distributed mutex that
// serializes coordinator actions on a named resource across a fleet of
// mutually distrusting processes, tolerating crashes of the holder.
//
// A DistLock is built on top of a configstore.ConfigStore and a shared
// Pinger; construction never acquires anything. Acquisition goes through
// TryLock, which never retries internally and never blocks beyond the
// underlying ConfigStore RPCs.
package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/docshard/docshard/internal/configstore"
	"github.com/docshard/docshard/internal/metrics"
	"github.com/docshard/docshard/pkg/chunkerrors"
)

// Defaults for the tunables named in spec.md §6.
const (
	DefaultLockTimeout      = 15 * time.Minute
	DefaultLockSkewFactor   = 30
	DefaultNumSkewChecks    = 3
)

// Outcome is the result of a TryLock attempt.
type Outcome int

const (
	// Got indicates the caller now holds the lock.
	Got Outcome = iota
	// Busy indicates some other live process holds the lock.
	Busy
)

func (o Outcome) String() string {
	if o == Got {
		return "got"
	}
	return "busy"
}

// Config holds the construction parameters of a DistLock (spec.md §4.1
// "Construction parameters").
type Config struct {
	Store       configstore.ConfigStore
	Name        string
	ProcessID   string
	LockTimeout time.Duration // default DefaultLockTimeout
	LockPing    time.Duration // default LockTimeout/DefaultLockSkewFactor
	Pinger      *Pinger       // shared across every DistLock in this process
}

// DistLock is one named lease-based mutex.
type DistLock struct {
	store       configstore.ConfigStore
	name        string
	processID   string
	lockTimeout time.Duration
	maxClockSkew time.Duration
	maxNetSkew   time.Duration
	pinger      *Pinger

	myTS string // token of the currently held lease, "" if not held

	lastStale *staleWitness // steal gate state from the prior TryLock call
}

// staleWitness is the (process, ping, ts) tuple _lastPingCheck remembers
// across consecutive TryLock calls (spec.md §4.1 step 3); ts identifies
// the holder's acquisition.
type staleWitness struct {
	process string
	ping    time.Time
	ts      string
}

// New constructs a DistLock. Construction does not acquire anything and
// does not run the clock-skew precondition; call CheckClockSkew once per
// (process, ConfigStore) pair before the first TryLock.
func New(cfg Config) *DistLock {
	lockTimeout := cfg.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	lockPing := cfg.LockPing
	if lockPing <= 0 {
		lockPing = lockTimeout / DefaultLockSkewFactor
	}
	skew := lockTimeout / DefaultLockSkewFactor

	return &DistLock{
		store:        cfg.Store,
		name:         cfg.Name,
		processID:    cfg.ProcessID,
		lockTimeout:  lockTimeout,
		maxClockSkew: skew,
		maxNetSkew:   skew,
		pinger:       cfg.Pinger,
	}
}

// CheckClockSkew is the precondition spec.md §4.1 requires before a
// process's first acquisition against a new ConfigStore: it probes the
// store NUM_LOCK_SKEW_CHECKS times, round-tripping a time read, and fails
// if any round trip or inferred skew exceeds the configured bounds.
func (l *DistLock) CheckClockSkew(ctx context.Context) error {
	var prev time.Time
	for i := 0; i < DefaultNumSkewChecks; i++ {
		start := time.Now()
		remote, err := l.store.Now(ctx)
		rtt := time.Since(start)
		if err != nil {
			return fmt.Errorf("%w: %v", chunkerrors.ErrLockTimeNotFound, err)
		}
		if rtt > l.maxNetSkew {
			return fmt.Errorf("%w: round trip %v exceeds %v", chunkerrors.ErrLockTimeNotFound, rtt, l.maxNetSkew)
		}
		if i > 0 {
			skew := remote.Sub(prev)
			if skew < 0 {
				skew = -skew
			}
			if skew > l.maxClockSkew {
				return fmt.Errorf("%w: clock skew %v exceeds %v", chunkerrors.ErrLockTimeNotFound, skew, l.maxClockSkew)
			}
		}
		prev = remote
	}
	return nil
}

// TryLock attempts the claim sequence of spec.md §4.1 steps 1-5.
func (l *DistLock) TryLock(ctx context.Context, why string) (Outcome, *configstore.LockRecord, error) {
	cur, err := l.store.FindLock(ctx, l.name)
	if err != nil {
		metrics.RecordLockAttempt(l.name, "error")
		return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
	}

	expectedTS := ""
	if cur != nil && cur.State == configstore.LockHeld {
		expectedTS = cur.TS

		ping, err := l.store.FindPing(ctx, cur.Process)
		if err != nil {
			metrics.RecordLockAttempt(l.name, "error")
			return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
		}
		now, err := l.store.Now(ctx)
		if err != nil {
			metrics.RecordLockAttempt(l.name, "error")
			return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
		}

		var lastPing time.Time
		if ping != nil {
			lastPing = ping.Ping
		}
		if now.Sub(lastPing) <= l.lockTimeout {
			l.lastStale = nil
			metrics.RecordLockAttempt(l.name, "busy")
			return Busy, cur, nil
		}

		// Holder looks dead. Only steal on the second consecutive
		// observation of this exact (process, ping, ts) tuple.
		witness := staleWitness{process: cur.Process, ping: lastPing, ts: cur.TS}
		if l.lastStale == nil || *l.lastStale != witness {
			l.lastStale = &witness
			metrics.RecordLockAttempt(l.name, "busy")
			return Busy, cur, nil
		}
		l.lastStale = nil
	} else {
		l.lastStale = nil
	}

	newTS, err := newToken()
	if err != nil {
		metrics.RecordLockAttempt(l.name, "error")
		return Busy, nil, fmt.Errorf("generate lock token: %w", err)
	}

	configNow, err := l.store.Now(ctx)
	if err != nil {
		metrics.RecordLockAttempt(l.name, "error")
		return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
	}

	claim := configstore.LockRecord{
		Name:    l.name,
		State:   configstore.LockHeld,
		TS:      newTS,
		Process: l.processID,
		When:    configNow,
		Who:     l.processID,
		Why:     why,
	}

	claimed, err := l.store.ClaimLock(ctx, l.name, expectedTS, claim)
	if err != nil {
		metrics.RecordLockAttempt(l.name, "error")
		return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
	}
	if !claimed {
		metrics.RecordLockAttempt(l.name, "busy")
		return Busy, cur, nil
	}

	// Post-claim verification (step 5).
	verify, err := l.store.FindLock(ctx, l.name)
	if err != nil {
		metrics.RecordLockAttempt(l.name, "error")
		return Busy, nil, fmt.Errorf("%w: %v", chunkerrors.ErrConfigStoreUnreachable, err)
	}
	if verify == nil || verify.TS != newTS {
		metrics.RecordLockAttempt(l.name, "busy")
		return Busy, verify, nil
	}

	l.myTS = newTS
	metrics.RecordLockAttempt(l.name, "got")
	return Got, verify, nil
}

// Unlock performs the conditional release of spec.md §4.1 "unlock()". It
// always succeeds from the caller's perspective; if the predicate fails
// remotely the lock was already stolen and we silently proceed.
func (l *DistLock) Unlock(ctx context.Context) error {
	if l.myTS == "" {
		return nil
	}
	ts := l.myTS
	l.myTS = ""
	return l.store.ReleaseLock(ctx, l.name, ts)
}

// Acquire wraps TryLock/Unlock in a scoped holder (spec.md §4.1 "Scoped
// acquisition", §9 "Scoped acquisition"). On Got, the returned release
// function must be called on every exit path of the protected work; on
// Busy it returns a nil release func and the caller should inspect err/rec.
func (l *DistLock) Acquire(ctx context.Context, why string) (release func(), rec *configstore.LockRecord, err error) {
	start := time.Now()
	outcome, rec, err := l.TryLock(ctx, why)
	if err != nil {
		return nil, nil, err
	}
	if outcome != Got {
		return nil, rec, &chunkerrors.LockBusy{Record: rec}
	}
	return func() {
		metrics.RecordLockHold(l.name, time.Since(start))
		_ = l.Unlock(ctx)
	}, rec, nil
}

func newToken() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// NewProcessID generates a fresh, stable-within-a-run process identity,
// grounded on the teacher's generateNodeID.
func NewProcessID() (string, error) {
	b := make([]byte, 20)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
