package donor

import (
	"testing"

	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/pkg/docmodel"
)

func shardKey(k int) docmodel.ShardKey {
	return docmodel.ShardKey{{Field: "k", Value: k}}
}

func TestLogOpInsertInRange(t *testing.T) {
	store := localstore.New()
	m := New(store)

	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// The storage engine commits the insert before calling LogOp, and
	// TransferMods re-reads reload ids from the live store.
	doc := docmodel.Document{"_id": "a", "k": 50}
	release := store.Lock("test.coll")
	store.Upsert("test.coll", "a", doc)
	release()
	m.LogOp(OpInsert, "test.coll", doc, nil)

	batch, err := m.TransferMods()
	if err != nil {
		t.Fatalf("TransferMods: %v", err)
	}
	if len(batch.Reload) != 1 {
		t.Fatalf("len(batch.Reload) = %d, want 1", len(batch.Reload))
	}
}

func TestLogOpInsertOutOfRangeIgnored(t *testing.T) {
	store := localstore.New()
	m := New(store)
	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.LogOp(OpInsert, "test.coll", docmodel.Document{"_id": "a", "k": 500}, nil)

	batch, err := m.TransferMods()
	if err != nil {
		t.Fatalf("TransferMods: %v", err)
	}
	if len(batch.Reload) != 0 {
		t.Fatalf("len(batch.Reload) = %d, want 0", len(batch.Reload))
	}
}

func TestLogOpDeleteUnconditional(t *testing.T) {
	store := localstore.New()
	m := New(store)
	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.LogOp(OpDelete, "test.coll", nil, docmodel.Document{"_id": "gone"})

	batch, err := m.TransferMods()
	if err != nil {
		t.Fatalf("TransferMods: %v", err)
	}
	if len(batch.Deleted) != 1 || batch.Deleted[0] != "gone" {
		t.Fatalf("batch.Deleted = %v, want [\"gone\"]", batch.Deleted)
	}
}

func TestLogOpUpdateRereadsLiveDoc(t *testing.T) {
	store := localstore.New()
	release := store.Lock("test.coll")
	store.Upsert("test.coll", "a", docmodel.Document{"_id": "a", "k": 10, "v": 2})
	release()

	m := New(store)
	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err != nil {
		t.Fatalf("Start: %v", err)
	}

	m.LogOp(OpUpdate, "test.coll", nil, docmodel.Document{"_id": "a"})

	batch, err := m.TransferMods()
	if err != nil {
		t.Fatalf("TransferMods: %v", err)
	}
	if len(batch.Reload) != 1 {
		t.Fatalf("len(batch.Reload) = %d, want 1", len(batch.Reload))
	}
	if batch.Reload[0]["v"] != 2 {
		t.Fatalf("reloaded doc = %v, want v=2", batch.Reload[0])
	}
}

func TestStartRejectsReentry(t *testing.T) {
	store := localstore.New()
	m := New(store)
	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if err := m.Start("test.coll", shardKey(0), shardKey(100)); err == nil {
		t.Fatal("second Start: expected error, got nil")
	}
}

func TestDoneIsIdempotent(t *testing.T) {
	store := localstore.New()
	m := New(store)
	m.Done()
	m.Done()
	if m.Active() {
		t.Fatal("Active() = true after Done, want false")
	}
}

func TestTransferModsEmptyWhenInactive(t *testing.T) {
	store := localstore.New()
	m := New(store)
	if _, err := m.TransferMods(); err == nil {
		t.Fatal("TransferMods on inactive: expected error, got nil")
	}
}
