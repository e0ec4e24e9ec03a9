// Package store owns the durable global model record and its optimistic
// versioning. All reads and writes of the shared model go through here;
// the merge itself is pure and lives in fedavg.
package store

import (
	"errors"
	"fmt"
	"sync"

	"FedMint/internal/model"
	"FedMint/internal/storage"
)

var (
	// modelKey is the storage key of the single global model record.
	modelKey = []byte("g:model")

	// scoreKeyPrefix is the storage key prefix for score records.
	scoreKeyPrefix = []byte("sc:")
)

var (
	// ErrNotInitialized is returned when no global model record exists.
	ErrNotInitialized = errors.New("global model not initialized")

	// ErrVersionConflict is returned when a save's expected version does
	// not match the durable record. The caller retries the round from the
	// start against a fresh snapshot.
	ErrVersionConflict = errors.New("global model version conflict")
)

// Store persists the global model as a single versioned record.
// Save performs a compare-and-swap on the record version, so concurrent
// writers against the same data directory cannot silently lose a merge.
type Store struct {
	db *storage.Storage // db is the underlying key-value store
	mu sync.Mutex       // mu serializes the version check with the write
}

// New creates a Store over the given storage.
func New(db *storage.Storage) *Store {
	return &Store{db: db}
}

// Init creates the global model record if it does not exist.
// The initial record carries the given weight vector, no samples, no
// participants, and version 1. Idempotent: an existing record is left
// untouched.
func (s *Store) Init(weights []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.db.Get(modelKey)
	if err != nil {
		return fmt.Errorf("read model record:\n%w", err)
	}

	if data != nil {
		return nil
	}

	m := model.NewGlobalModel(weights)
	m.Version = 1

	if err := s.db.SetSync(modelKey, model.EncodeGlobalModel(m)); err != nil {
		return fmt.Errorf("write initial model record:\n%w", err)
	}

	return nil
}

// Load returns the current global model snapshot.
func (s *Store) Load() (*model.GlobalModel, error) {
	data, err := s.db.Get(modelKey)
	if err != nil {
		return nil, fmt.Errorf("read model record:\n%w", err)
	}

	if data == nil {
		return nil, ErrNotInitialized
	}

	m, err := model.DecodeGlobalModel(data)
	if err != nil {
		return nil, fmt.Errorf("decode model record:\n%w", err)
	}

	return m, nil
}

// Save persists a new global model state.
// expectedVersion must match the durable record's version; on success the
// stored record carries expectedVersion+1. The single-key write is
// all-or-nothing, so a partial model state is never observable.
func (s *Store) Save(m *model.GlobalModel, expectedVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.db.Get(modelKey)
	if err != nil {
		return fmt.Errorf("read model record:\n%w", err)
	}

	if current == nil {
		return ErrNotInitialized
	}

	durable, err := model.DecodeGlobalModel(current)
	if err != nil {
		return fmt.Errorf("decode model record:\n%w", err)
	}

	if durable.Version != expectedVersion {
		return fmt.Errorf("%w: durable version %d, expected %d",
			ErrVersionConflict, durable.Version, expectedVersion)
	}

	m.Version = expectedVersion + 1

	if err := s.db.SetSync(modelKey, model.EncodeGlobalModel(m)); err != nil {
		return fmt.Errorf("write model record:\n%w", err)
	}

	return nil
}

// SaveScores persists a submission's score record for audit.
func (s *Store) SaveScores(rec *model.ScoreRecord) error {
	key := scoreKey(rec.RoundID, rec.Submitter)

	if err := s.db.Set(key, model.EncodeScoreRecord(rec)); err != nil {
		return fmt.Errorf("write score record:\n%w", err)
	}

	return nil
}

// ScoresForRound returns the score records of a round, ordered by submitter.
func (s *Store) ScoresForRound(roundID string) ([]*model.ScoreRecord, error) {
	prefix := append(append([]byte{}, scoreKeyPrefix...), roundID+":"...)

	var records []*model.ScoreRecord

	err := s.db.IteratePrefix(prefix, func(_, value []byte) error {
		rec, err := model.DecodeScoreRecord(value)
		if err != nil {
			return fmt.Errorf("decode score record:\n%w", err)
		}

		records = append(records, rec)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

// scoreKey builds the storage key for a score record: "sc:<round>:<submitter>".
func scoreKey(roundID, submitter string) []byte {
	key := make([]byte, 0, len(scoreKeyPrefix)+len(roundID)+1+len(submitter))
	key = append(key, scoreKeyPrefix...)
	key = append(key, roundID...)
	key = append(key, ':')
	key = append(key, submitter...)

	return key
}
