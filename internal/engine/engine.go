// Package engine sequences a submission through validation, merge,
// allocation and distribution. All blocking work (persistence, issuance,
// artifact publication) happens here and in the ledger; the aggregation
// and allocation math stays in pure packages.
package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"FedMint/internal/content"
	"FedMint/internal/fedavg"
	"FedMint/internal/ledger"
	"FedMint/internal/logger"
	"FedMint/internal/model"
	"FedMint/internal/reward"
	"FedMint/internal/store"
	"FedMint/internal/validate"
)

// State is a round's position in the processing pipeline.
// States advance strictly forward; Rejected is terminal.
type State string

const (
	StateReceived    State = "received"
	StateValidated   State = "validated"
	StateMerged      State = "merged"
	StateAllocated   State = "allocated"
	StateDistributed State = "distributed"
	StateComplete    State = "complete"
	StateRejected    State = "rejected"
)

// Params holds the engine's aggregation and allocation settings.
type Params struct {
	LearningRate float64 // LearningRate is the merge step numerator
	BatchSize    int     // BatchSize is the merge step denominator
	RewardUnits  uint64  // RewardUnits is the reward budget per allocation round
	MinSamples   uint64  // MinSamples is the minimum sample count per submission
}

// RoundOutcome reports how far a round got and what it produced.
type RoundOutcome struct {
	State        State                    // State is the final state reached
	Reason       validate.Reason          // Reason is set when State is rejected
	RoundID      string                   // RoundID identifies the allocation round
	ModelVersion uint64                   // ModelVersion is the merged model's version
	NumSamples   uint64                   // NumSamples is the merged cumulative sample count
	ArtifactID   string                   // ArtifactID is the published model artifact id
	Allocations  []model.RewardAllocation // Allocations is the computed reward table
	NewlyIssued  []model.RewardAllocation // NewlyIssued are rewards issued by this invocation
	Shortfall    uint64                   // Shortfall is the total clamped off the reward budget
}

// Engine orchestrates rounds over the shared global model.
type Engine struct {
	params    Params                    // params holds aggregation settings
	store     *store.Store              // store owns the durable global model
	ledger    *ledger.Ledger            // ledger drives reward distribution
	content   content.Store             // content receives published model artifacts
	predicate validate.QualityPredicate // predicate screens submissions

	// mu is the single-writer exclusion around load-merge-save. Merges
	// must never run concurrently; reads may (the store hands out
	// snapshots).
	mu sync.Mutex

	roundsCompleted atomic.Int64
	roundsRejected  atomic.Int64
	rewardsIssued   atomic.Uint64
}

// New creates an Engine. A nil predicate accepts every submission.
func New(params Params, st *store.Store, lg *ledger.Ledger, cs content.Store, predicate validate.QualityPredicate) *Engine {
	if predicate == nil {
		predicate = validate.AcceptAll{}
	}

	return &Engine{
		params:    params,
		store:     st,
		ledger:    lg,
		content:   cs,
		predicate: predicate,
	}
}

// RunRound processes one submission end to end:
// validate, merge, persist, publish, allocate, distribute.
//
// Validation and schema failures return an outcome in StateRejected
// together with the reason-carrying error; no state is mutated. A
// version conflict (another writer advanced the model) surfaces
// store.ErrVersionConflict and the caller retries the whole round.
// Distribution failures leave the round resumable via Resume.
func (e *Engine) RunRound(ctx context.Context, update *model.LocalUpdate) (*RoundOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	outcome := &RoundOutcome{State: StateReceived}

	global, err := e.store.Load()
	if err != nil {
		return outcome, fmt.Errorf("load global model:\n%w", err)
	}

	validator := validate.New(validate.Policy{
		MinSamples: e.params.MinSamples,
		WeightLen:  len(global.Weights),
	}, e.predicate)

	if err := validator.Validate(ctx, update); err != nil {
		return e.rejected(outcome, update, err)
	}
	outcome.State = StateValidated

	merged, err := fedavg.Merge(global, update, e.params.LearningRate, e.params.BatchSize)
	if errors.Is(err, fedavg.ErrSchemaMismatch) {
		return e.rejected(outcome, update, &validate.RejectionError{
			Reason: validate.ReasonSchemaMismatch,
			Detail: err.Error(),
		})
	}
	if err != nil {
		return outcome, fmt.Errorf("merge update:\n%w", err)
	}

	if err := e.store.Save(merged, global.Version); err != nil {
		return outcome, fmt.Errorf("persist merged model:\n%w", err)
	}

	outcome.State = StateMerged
	outcome.ModelVersion = merged.Version
	outcome.NumSamples = merged.NumSamples
	outcome.RoundID = roundIDString(merged)

	e.recordScores(update, outcome.RoundID)
	outcome.ArtifactID = e.publishArtifact(ctx, merged)

	allocation := reward.Allocate(merged.Participants, e.params.RewardUnits)
	outcome.State = StateAllocated
	outcome.Allocations = allocation.Allocations
	outcome.Shortfall = allocation.Shortfall

	if allocation.Shortfall > 0 {
		logger.Warn("allocation clamped to budget",
			"round", outcome.RoundID, "shortfall", allocation.Shortfall)
	}

	if len(allocation.Allocations) == 0 {
		outcome.State = StateComplete
		e.roundsCompleted.Add(1)
		return outcome, nil
	}

	result, err := e.ledger.Commit(ctx, outcome.RoundID, allocation.Allocations)
	if result != nil {
		outcome.NewlyIssued = result.NewlyIssued
	}
	if err != nil {
		// Partially distributed: resumable with the same round id.
		outcome.State = StateDistributed

		if applyErr := e.applyIssued(merged, outcome.NewlyIssued); applyErr != nil {
			logger.Error("apply issued rewards", "error", applyErr)
		}

		return outcome, fmt.Errorf("distribute round %s:\n%w", outcome.RoundID, err)
	}

	outcome.State = StateDistributed

	if err := e.applyIssued(merged, outcome.NewlyIssued); err != nil {
		return outcome, err
	}

	outcome.State = StateComplete
	e.roundsCompleted.Add(1)

	logger.Info("round complete",
		"round", outcome.RoundID,
		"submitter", update.Submitter,
		"version", outcome.ModelVersion,
		"samples", outcome.NumSamples,
		"issued", len(outcome.NewlyIssued),
		logger.Timed(start),
	)

	return outcome, nil
}

// Resume retries distribution for a round that failed partway.
// Only records still unissued are retried; completed rounds are a no-op
// returning the prior state.
func (e *Engine) Resume(ctx context.Context, roundID string) (*RoundOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	outcome := &RoundOutcome{State: StateDistributed, RoundID: roundID}

	result, err := e.ledger.Commit(ctx, roundID, nil)
	if result != nil {
		outcome.NewlyIssued = result.NewlyIssued
	}
	if err != nil {
		if applyErr := e.applyIssuedToCurrent(outcome.NewlyIssued); applyErr != nil {
			logger.Error("apply issued rewards", "error", applyErr)
		}

		return outcome, fmt.Errorf("resume round %s:\n%w", roundID, err)
	}

	if err := e.applyIssuedToCurrent(outcome.NewlyIssued); err != nil {
		return outcome, err
	}

	outcome.State = StateComplete

	return outcome, nil
}

// Head returns the current global model snapshot.
func (e *Engine) Head() (*model.GlobalModel, error) {
	return e.store.Load()
}

// Stats holds engine counters for monitoring.
type Stats struct {
	RoundsCompleted int64  // RoundsCompleted counts rounds that reached complete
	RoundsRejected  int64  // RoundsRejected counts rejected submissions
	RewardsIssued   uint64 // RewardsIssued is the cumulative reward units issued
}

// Stats returns the engine counters.
func (e *Engine) Stats() Stats {
	return Stats{
		RoundsCompleted: e.roundsCompleted.Load(),
		RoundsRejected:  e.roundsRejected.Load(),
		RewardsIssued:   e.rewardsIssued.Load(),
	}
}

// rejected finalizes a rejected round without mutating any state.
func (e *Engine) rejected(outcome *RoundOutcome, update *model.LocalUpdate, err error) (*RoundOutcome, error) {
	outcome.State = StateRejected

	var rej *validate.RejectionError
	if errors.As(err, &rej) {
		outcome.Reason = rej.Reason
	}

	e.roundsRejected.Add(1)

	logger.Debug("submission rejected",
		"submitter", update.Submitter, "reason", outcome.Reason)

	return outcome, err
}

// recordScores persists the submission's evaluation scores, if any.
// Best effort: a failed score write does not fail the round.
func (e *Engine) recordScores(update *model.LocalUpdate, roundID string) {
	if len(update.Scores) == 0 {
		return
	}

	err := e.store.SaveScores(&model.ScoreRecord{
		Submitter: update.Submitter,
		RoundID:   roundID,
		Scores:    update.Scores,
	})
	if err != nil {
		logger.Warn("score record not persisted",
			"round", roundID, "submitter", update.Submitter, "error", err)
	}
}

// publishArtifact pushes the serialized merged model to the content
// store and returns the artifact id, or empty on failure. Publication is
// advisory; the durable record in the store is authoritative.
func (e *Engine) publishArtifact(ctx context.Context, m *model.GlobalModel) string {
	if e.content == nil {
		return ""
	}

	id, err := e.content.Put(ctx, model.EncodeGlobalModel(m))
	if err != nil {
		logger.Warn("model artifact not published", "version", m.Version, "error", err)
		return ""
	}

	logger.Debug("model artifact published", "version", m.Version, "artifact", id.String())

	return id.String()
}

// applyIssued folds newly issued rewards into the participants' ledger
// entries and persists the updated model.
func (e *Engine) applyIssued(m *model.GlobalModel, issued []model.RewardAllocation) error {
	if len(issued) == 0 {
		return nil
	}

	for _, a := range issued {
		if p, ok := m.Participants[a.Participant]; ok {
			p.RewardsIssued += a.Amount
		}
		e.rewardsIssued.Add(a.Amount)
	}

	if err := e.store.Save(m, m.Version); err != nil {
		return fmt.Errorf("persist issued rewards:\n%w", err)
	}

	return nil
}

// applyIssuedToCurrent loads the current model and applies issued
// rewards to it. Used on resume, where no merged snapshot is in hand.
func (e *Engine) applyIssuedToCurrent(issued []model.RewardAllocation) error {
	if len(issued) == 0 {
		return nil
	}

	m, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load global model:\n%w", err)
	}

	return e.applyIssued(m, issued)
}

// roundIDString derives the hex round id for a merged snapshot.
func roundIDString(m *model.GlobalModel) string {
	id := m.RoundID()
	return hex.EncodeToString(id[:])
}
