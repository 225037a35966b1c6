package configstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the runtime-default ConfigStore, backed by a single BadgerDB
// instance. Gob-encoded records inside db.View/db.Update transactions,
// following the teacher's engine/badger.Store.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (creating if absent) a BadgerDB instance at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.BlockCacheSize = 64 << 20
	opts.IndexCacheSize = 64 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func lockKey(name string) []byte       { return []byte("locks/" + name) }
func pingKey(processID string) []byte  { return []byte("lockpings/" + processID) }
func chunkKey(ns, id string) []byte    { return []byte("chunks/" + ns + "/" + id) }
func chunkPrefix(ns string) []byte     { return []byte("chunks/" + ns + "/") }
func changelogKey(seq uint64) []byte   { return []byte(fmt.Sprintf("changelog/%020d", seq)) }

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (s *BadgerStore) Now(ctx context.Context) (time.Time, error) {
	return time.Now(), nil
}

func (s *BadgerStore) FindLock(ctx context.Context, name string) (*LockRecord, error) {
	var rec LockRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(lockKey(name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return decode(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) ClaimLock(ctx context.Context, name string, expectedTS string, claim LockRecord) (bool, error) {
	var claimed bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var cur LockRecord
		item, err := txn.Get(lockKey(name))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			// no record: claim proceeds.
		case err != nil:
			return err
		default:
			if verr := item.Value(func(val []byte) error { return decode(val, &cur) }); verr != nil {
				return verr
			}
			if cur.State != LockFree && cur.TS != expectedTS {
				return nil
			}
		}

		claim.Name = name
		buf, err := encode(claim)
		if err != nil {
			return err
		}
		if err := txn.Set(lockKey(name), buf); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

func (s *BadgerStore) ReleaseLock(ctx context.Context, name string, expectedTS string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var cur LockRecord
		item, err := txn.Get(lockKey(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if verr := item.Value(func(val []byte) error { return decode(val, &cur) }); verr != nil {
			return verr
		}
		if cur.TS != expectedTS {
			return nil
		}
		cur.State = LockFree
		buf, err := encode(cur)
		if err != nil {
			return err
		}
		return txn.Set(lockKey(name), buf)
	})
}

func (s *BadgerStore) FindPing(ctx context.Context, processID string) (*PingRecord, error) {
	var rec PingRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pingKey(processID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return decode(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) UpsertPing(ctx context.Context, processID string, at time.Time) error {
	buf, err := encode(PingRecord{ProcessID: processID, Ping: at})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(pingKey(processID), buf)
	})
}

func (s *BadgerStore) forEachChunk(ns string, fn func(ChunkRecord) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = chunkPrefix(ns)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			var rec ChunkRecord
			if err := it.Item().Value(func(val []byte) error { return decode(val, &rec) }); err != nil {
				return err
			}
			if err := fn(rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) MaxLastmod(ctx context.Context, ns string) (uint64, error) {
	var max uint64
	err := s.forEachChunk(ns, func(rec ChunkRecord) error {
		if rec.Lastmod > max {
			max = rec.Lastmod
		}
		return nil
	})
	return max, err
}

func (s *BadgerStore) FindChunk(ctx context.Context, ns, chunkID string) (*ChunkRecord, error) {
	var rec ChunkRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(ns, chunkID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error { return decode(val, &rec) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *BadgerStore) ChunksByShard(ctx context.Context, ns, shard string) ([]ChunkRecord, error) {
	var out []ChunkRecord
	err := s.forEachChunk(ns, func(rec ChunkRecord) error {
		if rec.Shard == shard {
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) UpdateChunkOwner(ctx context.Context, ns, chunkID, expectedShard, newShard string, newLastmod uint64) (bool, error) {
	var updated bool
	err := s.db.Update(func(txn *badger.Txn) error {
		var rec ChunkRecord
		item, err := txn.Get(chunkKey(ns, chunkID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if verr := item.Value(func(val []byte) error { return decode(val, &rec) }); verr != nil {
			return verr
		}
		if rec.Shard != expectedShard {
			return nil
		}
		rec.Shard = newShard
		rec.Lastmod = newLastmod
		buf, err := encode(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(chunkKey(ns, chunkID), buf); err != nil {
			return err
		}
		updated = true
		return nil
	})
	return updated, err
}

func (s *BadgerStore) UpdateChunkLastmod(ctx context.Context, ns, chunkID string, newLastmod uint64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		var rec ChunkRecord
		item, err := txn.Get(chunkKey(ns, chunkID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if verr := item.Value(func(val []byte) error { return decode(val, &rec) }); verr != nil {
			return verr
		}
		rec.Lastmod = newLastmod
		buf, err := encode(rec)
		if err != nil {
			return err
		}
		return txn.Set(chunkKey(ns, chunkID), buf)
	})
}

// PutChunk writes a chunk record directly, for seeding chunk ownership.
func (s *BadgerStore) PutChunk(rec ChunkRecord) error {
	buf, err := encode(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(rec.NS, rec.ID), buf)
	})
}

func (s *BadgerStore) AppendChangeLog(ctx context.Context, entry ChangeLogEntry) error {
	buf, err := encode(entry)
	if err != nil {
		return err
	}
	// Keyed by wall-clock nanosecond timestamp (UnixNano carries no
	// monotonic reading): changelog entries are write-once and read back in
	// key order, which is append order while the clock does not step back.
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(changelogKey(uint64(time.Now().UnixNano())), buf)
	})
}
