// Package donor implements the donor-side write capture state machine,
// MigrateFromStatus: a single process-wide instance that captures writes to
// the moving range while a migration is in progress, and serves change
// batches to the recipient.
package donor

import (
	"fmt"
	"log"
	"sync"

	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/internal/metrics"
	"github.com/docshard/docshard/pkg/chunkerrors"
	"github.com/docshard/docshard/pkg/docmodel"
)

// TransferModsBatchBudget is TRANSFER_MODS_BATCH from spec.md §6.
const TransferModsBatchBudget = 1 << 20 // 1 MiB

// OpKind is the write-operation kind passed to LogOp.
type OpKind int

const (
	OpInsert OpKind = iota
	OpUpdate
	OpDelete
	OpNoop    // "n"
	OpCommand // "c"
	OpDB      // the specific db no-op
)

// ModsBatch is the change batch transferMods emits (spec.md §4.2
// "transfer_mods()").
type ModsBatch struct {
	Deleted []any               `json:"deleted"`
	Reload  []docmodel.Document `json:"reload"`
	Size    int                 `json:"size"`
}

// MigrateFromStatus is the donor's singleton write-capture state. Model as
// an instance owned by the shard daemon and injected into command
// handlers (spec.md §9 "Singletons"), not referenced globally.
type MigrateFromStatus struct {
	store *localstore.Store

	mu                sync.Mutex
	active            bool
	ns                string
	min, max          docmodel.ShardKey
	deleted           []any
	reload            []any // doc ids pending re-read and shipment
	inCriticalSection bool
}

// New returns an idle MigrateFromStatus bound to store, the local
// collection store it captures writes against and re-reads documents
// from.
func New(store *localstore.Store) *MigrateFromStatus {
	return &MigrateFromStatus{store: store}
}

// Start begins capture for ns in [min, max). Fails loudly if reentered
// (spec.md §4.2 "start").
func (m *MigrateFromStatus) Start(ns string, min, max docmodel.ShardKey) error {
	if min.Empty() || max.Empty() {
		return chunkerrors.ErrNotActive
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active {
		return chunkerrors.ErrAlreadyActive
	}
	m.active = true
	m.ns = ns
	m.min = min
	m.max = max
	m.deleted = nil
	m.reload = nil
	m.inCriticalSection = false
	return nil
}

// Done is idempotent teardown.
func (m *MigrateFromStatus) Done() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = false
	m.inCriticalSection = false
	m.deleted = nil
	m.reload = nil
}

// Active reports whether capture is currently running.
func (m *MigrateFromStatus) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetInCriticalSection flips the in-memory flag the storage layer
// consults to decide how to serialize against the migration (spec.md
// §4.4 step 7a).
func (m *MigrateFromStatus) SetInCriticalSection(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inCriticalSection = v
}

// InCriticalSection reports the current flag value.
func (m *MigrateFromStatus) InCriticalSection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inCriticalSection
}

// LogOp is invoked by the storage engine for every write (spec.md §4.2
// "log_op"). doc is the write's document payload (insert/update new
// value where known); matchPredicate is the query that selected the
// target document, used to recover an update's _id.
func (m *MigrateFromStatus) LogOp(op OpKind, ns string, doc docmodel.Document, matchPredicate docmodel.Document) {
	m.mu.Lock()
	active := m.active
	myNS := m.ns
	min := m.min
	max := m.max
	m.mu.Unlock()

	if !active || ns != myNS {
		return
	}
	if op == OpNoop || op == OpCommand || op == OpDB {
		return
	}

	id, ok := extractID(op, doc, matchPredicate)
	if !ok {
		log.Printf("donor: log_op: could not extract document id for op on %s, dropping", ns)
		return
	}

	if op == OpDelete {
		// We cannot re-read the doc to test range membership; the
		// recipient must tolerate surplus deletes for ids not present.
		m.mu.Lock()
		m.deleted = append(m.deleted, id)
		m.mu.Unlock()
		return
	}

	var candidate docmodel.Document
	switch op {
	case OpInsert:
		candidate = doc
	case OpUpdate:
		release := m.store.RLock(ns)
		live, ok := m.store.GetByID(ns, idString(id))
		release()
		if !ok {
			log.Printf("donor: log_op: update for %v raced with a concurrent delete, dropping", id)
			return
		}
		candidate = live
	default:
		return
	}

	projection := docmodel.Project(candidate, min)
	if !docmodel.InRange(min, max, projection) {
		return
	}

	m.mu.Lock()
	m.reload = append(m.reload, id)
	m.mu.Unlock()
}

// extractID recovers the document identity per spec.md §4.2: from
// matchPredicate._id if provided, else from doc._id.
func extractID(op OpKind, doc, matchPredicate docmodel.Document) (any, bool) {
	if matchPredicate != nil {
		if id, ok := docmodel.ExtractID(matchPredicate); ok {
			return id, true
		}
	}
	return docmodel.ExtractID(doc)
}

func idString(id any) string {
	if s, ok := id.(string); ok {
		return s
	}
	// Non-string ids are rare in this codebase (the wire layer encodes
	// documents as JSON, which always keys localstore by string id);
	// fall back to a stable textual form.
	return fmt.Sprint(id)
}

// TransferMods drains the capture queues into one change batch, bounded
// by TransferModsBatchBudget (spec.md §4.2 "transfer_mods()").
func (m *MigrateFromStatus) TransferMods() (ModsBatch, error) {
	m.mu.Lock()
	active := m.active
	ns := m.ns
	m.mu.Unlock()
	if !active {
		return ModsBatch{}, chunkerrors.ErrNotActive
	}

	release := m.store.RLock(ns)
	defer release()

	var batch ModsBatch

	m.mu.Lock()
	defer m.mu.Unlock()

	size := 0
	for size < TransferModsBatchBudget && len(m.deleted) > 0 {
		id := m.deleted[0]
		m.deleted = m.deleted[1:]
		batch.Deleted = append(batch.Deleted, id)
		size += estimateSize(id)
	}

	for size < TransferModsBatchBudget && len(m.reload) > 0 {
		id := m.reload[0]
		m.reload = m.reload[1:]
		doc, ok := m.store.GetByID(ns, idString(id))
		if !ok {
			// Deleted since it was queued; nothing to ship.
			continue
		}
		batch.Reload = append(batch.Reload, doc)
		size += estimateSize(doc)
	}

	batch.Size = size
	metrics.RecordTransferModsBytes(size)
	return batch, nil
}

func estimateSize(v any) int {
	switch x := v.(type) {
	case docmodel.Document:
		n := 0
		for k, val := range x {
			n += len(k) + estimateSize(val)
		}
		return n
	case string:
		return len(x)
	default:
		return 16
	}
}
