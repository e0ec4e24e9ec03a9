// Package ledger records reward distributions and drives the external
// issuance collaborator. Commits are idempotent per round id and resume
// after partial failure without ever issuing a record twice.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"FedMint/internal/logger"
	"FedMint/internal/model"
	"FedMint/internal/storage"
)

// recordKeyPrefix is the storage key prefix for distribution records.
var recordKeyPrefix = []byte("r:")

// ErrUnknownRound is returned when no distribution records exist for a
// round id.
var ErrUnknownRound = errors.New("unknown allocation round")

// IssuanceService abstracts the external reward-credential issuer.
// The engine treats failures as retryable unless marked permanent.
type IssuanceService interface {
	// Issue credits the participant with reward units and returns a
	// receipt identifier.
	Issue(ctx context.Context, participant string, amount uint64) (string, error)
}

// IssuanceError classifies an issuance failure.
// Permanent failures leave the record unissued and must surface to an
// operator; retryable ones resolve by re-running the commit.
type IssuanceError struct {
	Participant string // Participant is the failed recipient
	Permanent   bool   // Permanent marks failures that retrying cannot fix
	Err         error  // Err is the underlying cause
}

// Error implements the error interface.
func (e *IssuanceError) Error() string {
	kind := "retryable"
	if e.Permanent {
		kind = "permanent"
	}

	return fmt.Sprintf("issuance failed for %s (%s): %v", e.Participant, kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *IssuanceError) Unwrap() error { return e.Err }

// Record is one participant's entry in a distribution round.
// Issued flips false to true exactly once and never reverts.
type Record struct {
	RoundID     string // RoundID is the allocation round identifier
	Participant string // Participant is the recipient
	Amount      uint64 // Amount is the reward units to issue
	Issued      bool   // Issued marks a completed issuance
	Receipt     string // Receipt is the issuer's receipt identifier
}

// CommitResult reports the outcome of one commit invocation.
type CommitResult struct {
	NewlyIssued    []model.RewardAllocation // NewlyIssued are records flipped by this invocation
	AlreadyIssued  int                      // AlreadyIssued counts records flipped by earlier invocations
	Pending        int                      // Pending counts records still unissued (on failure)
}

// Ledger persists distribution records and invokes the issuer.
type Ledger struct {
	db     *storage.Storage // db is the underlying key-value store
	issuer IssuanceService  // issuer is the external issuance collaborator
	mu     sync.Mutex       // mu serializes commits
}

// New creates a Ledger over the given storage and issuer.
func New(db *storage.Storage, issuer IssuanceService) *Ledger {
	return &Ledger{db: db, issuer: issuer}
}

// Commit distributes an allocation round.
//
// On first invocation it creates one record per non-zero allocation with
// issued=false, then walks the records in participant order, issuing each
// and durably flipping it before moving to the next. Re-invoking with the
// same round id skips flipped records, so a failed commit resumes where
// it stopped and a completed commit is a no-op.
//
// The allocations argument may be nil on retry; records are then loaded
// from the log.
func (l *Ledger) Commit(ctx context.Context, roundID string, allocs []model.RewardAllocation) (*CommitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	records, err := l.loadRecords(roundID)
	if err != nil {
		return nil, fmt.Errorf("load distribution records:\n%w", err)
	}

	if len(records) == 0 {
		if len(allocs) == 0 {
			if allocs == nil {
				return nil, fmt.Errorf("%w: %s", ErrUnknownRound, roundID)
			}

			return &CommitResult{}, nil
		}

		records, err = l.createRecords(roundID, allocs)
		if err != nil {
			return nil, fmt.Errorf("create distribution records:\n%w", err)
		}
	}

	return l.issueRecords(ctx, records)
}

// Records returns a round's distribution records ordered by participant.
func (l *Ledger) Records(roundID string) ([]*Record, error) {
	return l.loadRecords(roundID)
}

// createRecords writes the round's records atomically with issued=false.
func (l *Ledger) createRecords(roundID string, allocs []model.RewardAllocation) ([]*Record, error) {
	records := make([]*Record, 0, len(allocs))
	pairs := make([]storage.KeyValue, 0, len(allocs))

	for _, a := range allocs {
		if a.Amount == 0 {
			continue
		}

		rec := &Record{
			RoundID:     roundID,
			Participant: a.Participant,
			Amount:      a.Amount,
		}

		records = append(records, rec)
		pairs = append(pairs, storage.KeyValue{
			Key:   recordKey(roundID, a.Participant),
			Value: encodeRecord(rec),
		})
	}

	if err := l.db.SetBatch(pairs); err != nil {
		return nil, err
	}

	sortRecords(records)

	return records, nil
}

// issueRecords walks the records, issuing every unissued one.
// Each successful issuance is made durable before the next is attempted,
// so a crash leaves the record either false (safe to retry) or true with
// the issuance already confirmed.
func (l *Ledger) issueRecords(ctx context.Context, records []*Record) (*CommitResult, error) {
	result := &CommitResult{}

	for i, rec := range records {
		if rec.Issued {
			result.AlreadyIssued++
			continue
		}

		if err := ctx.Err(); err != nil {
			result.Pending = pendingCount(records[i:])
			return result, fmt.Errorf("commit interrupted:\n%w", err)
		}

		receipt, err := l.issuer.Issue(ctx, rec.Participant, rec.Amount)
		if err != nil {
			result.Pending = pendingCount(records[i:])

			var issErr *IssuanceError
			if errors.As(err, &issErr) {
				return result, issErr
			}

			return result, &IssuanceError{Participant: rec.Participant, Err: err}
		}

		rec.Issued = true
		rec.Receipt = receipt

		if err := l.db.SetSync(recordKey(rec.RoundID, rec.Participant), encodeRecord(rec)); err != nil {
			// The issuance went through but the flip did not persist.
			// Surface loudly: a blind retry would double-issue.
			logger.Error("distribution record flip not durable",
				"round", rec.RoundID, "participant", rec.Participant)

			result.Pending = pendingCount(records[i:])

			return result, fmt.Errorf("persist issued record for %s:\n%w", rec.Participant, err)
		}

		logger.Debug("reward issued",
			"round", rec.RoundID, "participant", rec.Participant,
			"amount", rec.Amount, "receipt", receipt)

		result.NewlyIssued = append(result.NewlyIssued, model.RewardAllocation{
			Participant: rec.Participant,
			Amount:      rec.Amount,
		})
	}

	return result, nil
}

// loadRecords reads a round's records from the log, ordered by participant.
func (l *Ledger) loadRecords(roundID string) ([]*Record, error) {
	prefix := append(append([]byte{}, recordKeyPrefix...), roundID+":"...)

	var records []*Record

	err := l.db.IteratePrefix(prefix, func(_, value []byte) error {
		rec, err := decodeRecord(value)
		if err != nil {
			return err
		}

		records = append(records, rec)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRecords(records)

	return records, nil
}

// sortRecords orders records by participant id ascending.
// The issuance order is part of the contract: deterministic and
// reproducible across retries.
func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Participant < records[j].Participant
	})
}

// pendingCount counts unissued records in the slice.
func pendingCount(records []*Record) int {
	n := 0
	for _, rec := range records {
		if !rec.Issued {
			n++
		}
	}

	return n
}

// recordKey builds the storage key: "r:<round>:<participant>".
func recordKey(roundID, participant string) []byte {
	key := make([]byte, 0, len(recordKeyPrefix)+len(roundID)+1+len(participant))
	key = append(key, recordKeyPrefix...)
	key = append(key, roundID...)
	key = append(key, ':')
	key = append(key, participant...)

	return key
}
