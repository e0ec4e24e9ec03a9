package validate

import (
	"context"
	"fmt"
	"math"

	"FedMint/internal/model"
)

// Reason identifies why a submission was rejected.
type Reason string

const (
	ReasonEmptyWeights       Reason = "empty_weights"
	ReasonSampleCountTooLow  Reason = "sample_count_too_low"
	ReasonNonFiniteWeight    Reason = "non_finite_weight"
	ReasonSchemaMismatch     Reason = "schema_mismatch"
	ReasonFailedQualityCheck Reason = "failed_quality_check"
)

// RejectionError reports a rejected submission with its reason code.
type RejectionError struct {
	Reason Reason // Reason is the machine-readable rejection code
	Detail string // Detail is a human-readable explanation
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	return fmt.Sprintf("submission rejected (%s): %s", e.Reason, e.Detail)
}

// reject builds a RejectionError.
func reject(reason Reason, format string, args ...any) *RejectionError {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// Policy holds the acceptance thresholds for submissions.
type Policy struct {
	MinSamples uint64 // MinSamples is the minimum local sample count
	WeightLen  int    // WeightLen is the expected weight vector length (0 = any)
}

// QualityPredicate screens an update beyond the structural checks.
// Implementations may run accuracy or poisoning heuristics; a returned
// error rejects the submission with ReasonFailedQualityCheck.
type QualityPredicate interface {
	Check(ctx context.Context, u *model.LocalUpdate) error
}

// AcceptAll is a QualityPredicate that accepts every update.
// The default when no screening module is configured.
type AcceptAll struct{}

// Check implements QualityPredicate.
func (AcceptAll) Check(context.Context, *model.LocalUpdate) error { return nil }

// Validator applies the acceptance policy to candidate updates.
// Pure: validation never mutates the update or any shared state.
type Validator struct {
	policy    Policy           // policy holds the structural thresholds
	predicate QualityPredicate // predicate is the pluggable quality screen
}

// New creates a Validator. A nil predicate accepts every update.
// MinSamples is raised to 1 if unset: an update must always carry samples.
func New(policy Policy, predicate QualityPredicate) *Validator {
	if predicate == nil {
		predicate = AcceptAll{}
	}

	if policy.MinSamples == 0 {
		policy.MinSamples = 1
	}

	return &Validator{policy: policy, predicate: predicate}
}

// Validate checks a candidate update against the policy.
// Returns a *RejectionError with a specific reason code on failure.
func (v *Validator) Validate(ctx context.Context, u *model.LocalUpdate) error {
	if len(u.Weights) == 0 {
		return reject(ReasonEmptyWeights, "update carries no weights")
	}

	if v.policy.WeightLen > 0 && len(u.Weights) != v.policy.WeightLen {
		return reject(ReasonSchemaMismatch,
			"weight vector length %d, expected %d", len(u.Weights), v.policy.WeightLen)
	}

	if u.NumSamples < v.policy.MinSamples {
		return reject(ReasonSampleCountTooLow,
			"sample count %d below minimum %d", u.NumSamples, v.policy.MinSamples)
	}

	for i, w := range u.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return reject(ReasonNonFiniteWeight, "weight %d is %v", i, w)
		}
	}

	if err := v.predicate.Check(ctx, u); err != nil {
		return reject(ReasonFailedQualityCheck, "%v", err)
	}

	return nil
}
