package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/docshard/docshard/internal/configstore"
	"github.com/docshard/docshard/internal/donor"
	"github.com/docshard/docshard/internal/localstore"
	"github.com/docshard/docshard/pkg/docmodel"
)

type fakeRecipient struct {
	mu           sync.Mutex
	states       []string // popped in order, then repeats the last
	commitErr    error
	committed    bool
	started      bool
}

func (f *fakeRecipient) RecvChunkStart(ctx context.Context, ns, from string, min, max docmodel.ShardKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeRecipient) RecvChunkStatus(ctx context.Context) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return true, "steady", nil
	}
	s := f.states[0]
	if len(f.states) > 1 {
		f.states = f.states[1:]
	}
	return true, s, nil
}

func (f *fakeRecipient) RecvChunkCommit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return f.commitErr
	}
	f.committed = true
	return nil
}

func shardKey(k int) docmodel.ShardKey {
	return docmodel.ShardKey{{Field: "k", Value: k}}
}

func newTestCoordinator(t *testing.T, store *configstore.MemStore, recipient RecipientClient) *Coordinator {
	t.Helper()
	local := localstore.New()
	capture := donor.New(local)
	dialer := func(addr string) (RecipientClient, error) { return recipient, nil }
	c := New(store, local, capture, dialer, "coord-p1", nil)
	c.StatusPollInterval = time.Millisecond
	return c
}

func TestMoveChunkHappyPath(t *testing.T) {
	store := configstore.NewMemStore()
	store.PutChunk(configstore.ChunkRecord{ID: "c1", NS: "test.coll", Min: shardKey(0), Max: shardKey(100), Shard: "A", Lastmod: 1})

	recipient := &fakeRecipient{states: []string{"clone", "catchup", "steady"}}
	c := newTestCoordinator(t, store, recipient)

	release := c.local.Lock("test.coll")
	c.local.Upsert("test.coll", "a", docmodel.Document{"_id": "a", "k": 5})
	release()

	result := c.MoveChunk(context.Background(), Request{
		NS: "test.coll", To: "B", From: "A", Min: shardKey(0), Max: shardKey(100), ShardID: "c1",
	})
	if !result.OK {
		t.Fatalf("MoveChunk failed: %+v", result)
	}
	if result.NumDeleted != 1 {
		t.Fatalf("NumDeleted = %d, want 1", result.NumDeleted)
	}

	chunk, err := store.FindChunk(context.Background(), "test.coll", "c1")
	if err != nil {
		t.Fatalf("FindChunk: %v", err)
	}
	if chunk.Shard != "B" {
		t.Fatalf("chunk.Shard = %q, want B", chunk.Shard)
	}

	log := store.ChangeLog()
	if len(log) != 1 || log[0].What != "moveChunk" {
		t.Fatalf("changelog = %+v, want one moveChunk entry", log)
	}

	if !recipient.committed {
		t.Fatal("recipient never observed RecvChunkCommit")
	}
}

func TestMoveChunkRejectsStaleOwnership(t *testing.T) {
	store := configstore.NewMemStore()
	store.PutChunk(configstore.ChunkRecord{ID: "c1", NS: "test.coll", Min: shardKey(0), Max: shardKey(100), Shard: "C", Lastmod: 1})

	recipient := &fakeRecipient{}
	c := newTestCoordinator(t, store, recipient)

	result := c.MoveChunk(context.Background(), Request{
		NS: "test.coll", To: "B", From: "A", Min: shardKey(0), Max: shardKey(100), ShardID: "c1",
	})
	if result.OK {
		t.Fatal("MoveChunk succeeded, want stale-ownership rejection")
	}
	if result.Official != "C" {
		t.Fatalf("Official = %q, want C", result.Official)
	}
}

func TestMoveChunkRejectsMissingFields(t *testing.T) {
	store := configstore.NewMemStore()
	c := newTestCoordinator(t, store, &fakeRecipient{})

	result := c.MoveChunk(context.Background(), Request{NS: "test.coll"})
	if result.OK {
		t.Fatal("MoveChunk succeeded with missing fields")
	}
}

func TestMoveChunkReturnsLockBusyWhenContended(t *testing.T) {
	store := configstore.NewMemStore()
	store.PutChunk(configstore.ChunkRecord{ID: "c1", NS: "test.coll", Min: shardKey(0), Max: shardKey(100), Shard: "A", Lastmod: 1})
	store.ClaimLock(context.Background(), "test.coll", "", configstore.LockRecord{State: configstore.LockHeld, TS: "other-ts", Process: "other-proc"})

	c := newTestCoordinator(t, store, &fakeRecipient{})
	result := c.MoveChunk(context.Background(), Request{
		NS: "test.coll", To: "B", From: "A", Min: shardKey(0), Max: shardKey(100), ShardID: "c1",
	})
	if result.OK {
		t.Fatal("MoveChunk succeeded despite contended lock")
	}
	if result.Who == nil || result.Who.Process != "other-proc" {
		t.Fatalf("Who = %+v, want holder record for other-proc", result.Who)
	}
}

func TestMoveChunkCommitFailureLeavesConfigUnchanged(t *testing.T) {
	store := configstore.NewMemStore()
	store.PutChunk(configstore.ChunkRecord{ID: "c1", NS: "test.coll", Min: shardKey(0), Max: shardKey(100), Shard: "A", Lastmod: 1})

	recipient := &fakeRecipient{commitErr: context.DeadlineExceeded}
	c := newTestCoordinator(t, store, recipient)

	result := c.MoveChunk(context.Background(), Request{
		NS: "test.coll", To: "B", From: "A", Min: shardKey(0), Max: shardKey(100), ShardID: "c1",
	})
	if result.OK {
		t.Fatal("MoveChunk succeeded despite commit failure")
	}

	chunk, _ := store.FindChunk(context.Background(), "test.coll", "c1")
	if chunk.Shard != "A" {
		t.Fatalf("chunk.Shard = %q, want unchanged A", chunk.Shard)
	}
}
