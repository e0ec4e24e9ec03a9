// Package fedavg implements the weighted global-model merge.
//
// The merge is a pure function: it never mutates its inputs and is
// deterministic for identical inputs, which keeps rounds replayable for
// audit. The step applied per coordinate is an exponential-moving-average
// toward the local weights:
//
//	new[i] = global[i] + (local[i] - global[i]) * (learningRate / batchSize)
//
// The step size is intentionally independent of the update's sample count;
// sample counts only drive the participation bookkeeping. Sample-weighted
// stepping would change convergence behavior and is a policy decision, not
// a drop-in substitution.
package fedavg

import (
	"errors"
	"fmt"

	"FedMint/internal/model"
)

// ErrSchemaMismatch is returned when an update's weight vector length
// differs from the global model's. Fatal to the round; the caller must
// discard the submission without mutating state.
var ErrSchemaMismatch = errors.New("weight vector length mismatch")

// Merge folds one accepted update into the global model.
// Returns a new model; the inputs are left untouched. The returned
// model's Version is unchanged (the store bumps it on save).
func Merge(global *model.GlobalModel, update *model.LocalUpdate, learningRate float64, batchSize int) (*model.GlobalModel, error) {
	if len(update.Weights) != len(global.Weights) {
		return nil, fmt.Errorf("%w: update has %d weights, global has %d",
			ErrSchemaMismatch, len(update.Weights), len(global.Weights))
	}

	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}

	if update.NumSamples == 0 {
		return nil, fmt.Errorf("update carries zero samples")
	}

	merged := global.Clone()

	step := learningRate / float64(batchSize)
	for i, local := range update.Weights {
		merged.Weights[i] += (local - merged.Weights[i]) * step
	}

	merged.NumSamples += update.NumSamples

	p, ok := merged.Participants[update.Submitter]
	if !ok {
		p = &model.Participant{ID: update.Submitter}
		merged.Participants[update.Submitter] = p
	}
	p.Samples += update.NumSamples

	recomputeParticipation(merged)

	return merged, nil
}

// recomputeParticipation refreshes every participant's share of the total
// sample count. Runs after every merge so shares always reflect the
// current ledger.
func recomputeParticipation(m *model.GlobalModel) {
	if m.NumSamples == 0 {
		for _, p := range m.Participants {
			p.Participation = 0
		}
		return
	}

	total := float64(m.NumSamples)
	for _, p := range m.Participants {
		p.Participation = float64(p.Samples) / total
	}
}
