// Package storage provides the durable key-value store backing the
// engine's persisted state (global model record, score records and the
// distribution log), built on Pebble.
package storage

import (
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
)

// syncInterval is the interval between background WAL syncs.
const syncInterval = 100 * time.Millisecond

// KeyValue is a key-value pair for atomic batch writes.
type KeyValue struct {
	Key   []byte // Key is the key to store
	Value []byte // Value is the value to store
}

// Storage is a Pebble-backed key-value store.
// Writes go in with NoSync and a background goroutine syncs the WAL
// periodically; Close performs a final sync.
type Storage struct {
	db       *pebble.DB    // db is the underlying Pebble database
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// Open opens (or creates) the store at the given path.
func Open(path string) (*Storage, error) {
	opts := &pebble.Options{
		Cache:                       pebble.NewCache(16 << 20), // 16 MB cache
		MemTableSize:                8 << 20,                   // 8 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, err
	}

	s := &Storage{
		db:       db,
		stopSync: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.syncLoop()

	return s, nil
}

// Get retrieves the value for a key, or nil if the key does not exist.
func (s *Storage) Get(key []byte) ([]byte, error) {
	value, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// The slice is only valid until closer.Close()
	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

// Set stores a key-value pair.
func (s *Storage) Set(key, value []byte) error {
	return s.db.Set(key, value, pebble.NoSync)
}

// SetSync stores a key-value pair and syncs the WAL before returning.
// Used for writes that must be durable before an external effect is
// taken (distribution record flips).
func (s *Storage) SetSync(key, value []byte) error {
	return s.db.Set(key, value, pebble.Sync)
}

// Delete removes a key.
func (s *Storage) Delete(key []byte) error {
	return s.db.Delete(key, pebble.NoSync)
}

// SetBatch atomically stores multiple key-value pairs.
// Either all pairs are written or none.
func (s *Storage) SetBatch(pairs []KeyValue) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	for _, kv := range pairs {
		if err := batch.Set(kv.Key, kv.Value, nil); err != nil {
			return err
		}
	}

	return batch.Commit(pebble.NoSync)
}

// IteratePrefix calls fn for each pair whose key has the given prefix,
// in lexicographic key order. Iteration stops on the first error.
func (s *Storage) IteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}

		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}

	return iter.Error()
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if the prefix is all 0xFF.
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}

// Close stops the sync goroutine, syncs the WAL and closes the database.
func (s *Storage) Close() error {
	close(s.stopSync)
	s.wg.Wait()

	if err := s.sync(); err != nil {
		return err
	}

	return s.db.Close()
}

// syncLoop periodically syncs the WAL until stopped.
func (s *Storage) syncLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.sync()
		case <-s.stopSync:
			return
		}
	}
}

// sync forces a WAL sync to disk.
func (s *Storage) sync() error {
	return s.db.LogData(nil, pebble.Sync)
}
