// Package recipient implements the recipient-side clone/tail state
// machine, MigrateStatus: a single process-wide instance that clones the
// initial range from a donor, tails its changes, then commits.
package recipient

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/internal/metrics"
	"github.com/docshard/docshard/pkg/chunkerrors"
	"github.com/docshard/docshard/pkg/docmodel"
)

// State is one of the recipient's migration states (spec.md §4.3).
type State int

const (
	StateIdle State = iota
	StateReady
	StateClone
	StateCatchup
	StateSteady
	StateCommitStart
	StateDone
	StateFail
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReady:
		return "ready"
	case StateClone:
		return "clone"
	case StateCatchup:
		return "catchup"
	case StateSteady:
		return "steady"
	case StateCommitStart:
		return "commit_start"
	case StateDone:
		return "done"
	case StateFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ModsBatch mirrors donor.ModsBatch without importing the donor package,
// keeping the recipient's dependency on the donor's wire shape rather
// than its in-process type.
type ModsBatch struct {
	Deleted []any
	Reload  []docmodel.Document
	Size    int
}

// IndexSpec is an opaque index specification copied donor to recipient
// during clone (spec.md §4.3 step 3). BSON parsing is out of scope; the
// spec is treated opaquely.
type IndexSpec = docmodel.Document

// DonorClient is the recipient's view of the donor's RPC surface,
// satisfied by internal/wire's client in the daemon and by a fake in
// tests.
type DonorClient interface {
	Ping(ctx context.Context) error
	Find(ctx context.Context, ns string, min, max docmodel.ShardKey, cursor string, limit int) (docs []docmodel.Document, nextCursor string, err error)
	Indexes(ctx context.Context, ns string) ([]IndexSpec, error)
	TransferMods(ctx context.Context) (ModsBatch, error)
}

// Status is the read-only snapshot status() emits (spec.md §4.3
// "status(out)").
type Status struct {
	Active  bool
	NS      string
	From    string
	Min, Max docmodel.ShardKey
	State   State
	Cloned  int
	Catchup int
	Steady  int
	ErrMsg  string
}

const findPageSize = 512

// catchupPollInterval is the STEADY-phase poll period (spec.md §4.3 step 5
// "short sleep (e.g. 20 ms)").
const catchupPollInterval = 20 * time.Millisecond

// MigrateStatus is the recipient's singleton clone/tail state. Model as
// an instance owned by the shard daemon and injected into command
// handlers (spec.md §9 "Singletons").
type MigrateStatus struct {
	store *localstore.Store

	mu      sync.Mutex
	active  bool
	ns      string
	from    string
	min, max docmodel.ShardKey
	state   State
	cloned  int
	catchup int
	steady  int
	errmsg  string

	commitStart chan struct{} // closed by startCommit
	done        chan struct{} // closed by the worker on DONE/FAIL
}

// New returns an idle MigrateStatus bound to store, the local collection
// store CLONE/apply write into.
func New(store *localstore.Store) *MigrateStatus {
	return &MigrateStatus{store: store}
}

// Prepare resets counters and transitions idle -> READY (spec.md §4.3
// "prepare()"). Fails if already active.
func (m *MigrateStatus) Prepare(ns, from string, min, max docmodel.ShardKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return chunkerrors.ErrAlreadyActive
	}
	m.active = true
	m.ns = ns
	m.from = from
	m.min = min
	m.max = max
	m.state = StateReady
	m.cloned, m.catchup, m.steady = 0, 0, 0
	m.errmsg = ""
	m.commitStart = make(chan struct{})
	m.done = make(chan struct{})
	metrics.RecordMigrationPhase(StateReady.String())
	return nil
}

// Go spawns the background worker running _go(); it wraps failures into
// state=FAIL (spec.md §4.3 "go()").
func (m *MigrateStatus) Go(client DonorClient) {
	go func() {
		if err := m.run(client); err != nil {
			m.mu.Lock()
			m.state = StateFail
			m.errmsg = err.Error()
			m.mu.Unlock()
			metrics.RecordMigrationPhase(StateFail.String())
			log.Printf("recipient: migration of %s from %s failed: %v", m.nsSnapshot(), m.fromSnapshot(), err)
		}
		m.mu.Lock()
		m.active = false
		done := m.done
		m.mu.Unlock()
		close(done)
	}()
}

func (m *MigrateStatus) nsSnapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ns
}

func (m *MigrateStatus) fromSnapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.from
}

// run is _go() (spec.md §4.3).
func (m *MigrateStatus) run(client DonorClient) error {
	ctx := context.Background()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping donor: %w", err)
	}

	if err := m.clone(ctx, client); err != nil {
		return fmt.Errorf("clone: %w", err)
	}
	if err := m.copyIndexes(ctx, client); err != nil {
		return fmt.Errorf("copy indexes: %w", err)
	}
	if err := m.catchUp(ctx, client); err != nil {
		return fmt.Errorf("catch up: %w", err)
	}
	if err := m.steadyState(ctx, client); err != nil {
		return fmt.Errorf("steady state: %w", err)
	}
	return nil
}

func (m *MigrateStatus) clone(ctx context.Context, client DonorClient) error {
	m.setState(StateClone)

	ns, min, max := m.boundsSnapshot()
	cursor := ""
	for {
		docs, next, err := client.Find(ctx, ns, min, max, cursor, findPageSize)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			release := m.store.Lock(ns)
			for _, doc := range docs {
				id, _ := docmodel.ExtractID(doc)
				m.store.Upsert(ns, fmt.Sprint(id), doc)
			}
			release()

			m.mu.Lock()
			m.cloned += len(docs)
			m.mu.Unlock()
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func (m *MigrateStatus) copyIndexes(ctx context.Context, client DonorClient) error {
	ns := m.nsSnapshot()
	specs, err := client.Indexes(ctx, ns)
	if err != nil {
		return err
	}
	release := m.store.Lock(ns)
	defer release()
	for _, spec := range specs {
		m.store.AddIndex(ns, spec)
	}
	return nil
}

func (m *MigrateStatus) catchUp(ctx context.Context, client DonorClient) error {
	m.setState(StateCatchup)
	for {
		batch, err := client.TransferMods(ctx)
		if err != nil {
			return err
		}
		n := m.apply(batch)
		m.mu.Lock()
		m.catchup += n
		m.mu.Unlock()
		if batch.Size == 0 {
			return nil
		}
	}
}

func (m *MigrateStatus) steadyState(ctx context.Context, client DonorClient) error {
	m.setState(StateSteady)

	ticker := time.NewTicker(catchupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.commitSignal():
			// Drain one final batch, then DONE (spec.md §4.3 step 5).
			batch, err := client.TransferMods(ctx)
			if err != nil {
				return err
			}
			n := m.apply(batch)
			m.mu.Lock()
			m.steady += n
			m.state = StateDone
			m.mu.Unlock()
			metrics.RecordMigrationPhase(StateDone.String())
			return nil
		case <-ticker.C:
			batch, err := client.TransferMods(ctx)
			if err != nil {
				return err
			}
			n := m.apply(batch)
			if n > 0 {
				m.mu.Lock()
				m.steady += n
				m.mu.Unlock()
			}
		}
	}
}

func (m *MigrateStatus) commitSignal() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commitStart
}

// apply upserts every reloaded document and deletes every deleted id,
// under the local store's write lock (spec.md §4.3 "apply(batch)", §9
// open question (a): delete-apply is implemented for real here).
func (m *MigrateStatus) apply(batch ModsBatch) int {
	if len(batch.Reload) == 0 && len(batch.Deleted) == 0 {
		return 0
	}
	ns := m.nsSnapshot()
	release := m.store.Lock(ns)
	defer release()

	for _, doc := range batch.Reload {
		id, _ := docmodel.ExtractID(doc)
		m.store.Upsert(ns, fmt.Sprint(id), doc)
	}
	for _, id := range batch.Deleted {
		m.store.Delete(ns, fmt.Sprint(id))
	}
	return len(batch.Reload) + len(batch.Deleted)
}

func (m *MigrateStatus) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	metrics.RecordMigrationPhase(s.String())
}

func (m *MigrateStatus) boundsSnapshot() (string, docmodel.ShardKey, docmodel.ShardKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ns, m.min, m.max
}

// GetStatus returns a read-only snapshot (spec.md §4.3 "status(out)").
func (m *MigrateStatus) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Active:  m.active,
		NS:      m.ns,
		From:    m.from,
		Min:     m.min,
		Max:     m.max,
		State:   m.state,
		Cloned:  m.cloned,
		Catchup: m.catchup,
		Steady:  m.steady,
		ErrMsg:  m.errmsg,
	}
}

// StartCommitTimeout bounds StartCommit's wait for DONE. spec.md §4.3
// "startCommit()" polls up to ~24 hours; this implementation waits on a
// channel closed by the worker instead (spec.md §9(c)).
const StartCommitTimeout = 24 * time.Hour

// StartCommit requires state=STEADY, advances to COMMIT_START, and waits
// for the worker to reach DONE.
func (m *MigrateStatus) StartCommit() error {
	m.mu.Lock()
	if m.state != StateSteady {
		m.mu.Unlock()
		return fmt.Errorf("startCommit: state is %s, want steady", m.state)
	}
	m.state = StateCommitStart
	commitStart := m.commitStart
	done := m.done
	m.mu.Unlock()
	metrics.RecordMigrationPhase(StateCommitStart.String())

	close(commitStart)

	select {
	case <-done:
	case <-time.After(StartCommitTimeout):
		return fmt.Errorf("startCommit: timed out waiting for done")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDone {
		return fmt.Errorf("%w: %s", chunkerrors.ErrRecipientFailed, m.errmsg)
	}
	return nil
}
