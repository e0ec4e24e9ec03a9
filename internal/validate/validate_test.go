package validate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"FedMint/internal/model"
)

// rejectingPredicate rejects every update with a fixed error.
type rejectingPredicate struct{}

func (rejectingPredicate) Check(context.Context, *model.LocalUpdate) error {
	return fmt.Errorf("divergence above threshold")
}

func TestValidateAccepts(t *testing.T) {
	v := New(Policy{MinSamples: 5, WeightLen: 2}, nil)

	u := &model.LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{1.0, 2.0},
		NumSamples: 10,
	}

	if err := v.Validate(context.Background(), u); err != nil {
		t.Fatalf("expected accept, got %v", err)
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		policy Policy
		update *model.LocalUpdate
		reason Reason
	}{
		{
			name:   "empty weights",
			policy: Policy{MinSamples: 1},
			update: &model.LocalUpdate{Submitter: "a", NumSamples: 5},
			reason: ReasonEmptyWeights,
		},
		{
			name:   "wrong vector length",
			policy: Policy{MinSamples: 1, WeightLen: 3},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{1, 2}, NumSamples: 5},
			reason: ReasonSchemaMismatch,
		},
		{
			name:   "too few samples",
			policy: Policy{MinSamples: 10},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{1}, NumSamples: 9},
			reason: ReasonSampleCountTooLow,
		},
		{
			name:   "zero samples",
			policy: Policy{},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{1}},
			reason: ReasonSampleCountTooLow,
		},
		{
			name:   "NaN weight",
			policy: Policy{MinSamples: 1},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{1, math.NaN()}, NumSamples: 5},
			reason: ReasonNonFiniteWeight,
		},
		{
			name:   "positive infinity",
			policy: Policy{MinSamples: 1},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{math.Inf(1)}, NumSamples: 5},
			reason: ReasonNonFiniteWeight,
		},
		{
			name:   "negative infinity",
			policy: Policy{MinSamples: 1},
			update: &model.LocalUpdate{Submitter: "a", Weights: []float64{math.Inf(-1)}, NumSamples: 5},
			reason: ReasonNonFiniteWeight,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := New(tc.policy, nil)

			err := v.Validate(context.Background(), tc.update)
			if err == nil {
				t.Fatal("expected rejection")
			}

			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("expected RejectionError, got %T", err)
			}

			if rej.Reason != tc.reason {
				t.Errorf("expected reason %s, got %s", tc.reason, rej.Reason)
			}
		})
	}
}

func TestValidatePredicateRejection(t *testing.T) {
	v := New(Policy{MinSamples: 1}, rejectingPredicate{})

	u := &model.LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{1.0},
		NumSamples: 5,
	}

	err := v.Validate(context.Background(), u)
	if err == nil {
		t.Fatal("expected rejection")
	}

	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("expected RejectionError, got %T", err)
	}

	if rej.Reason != ReasonFailedQualityCheck {
		t.Errorf("expected reason %s, got %s", ReasonFailedQualityCheck, rej.Reason)
	}
}

func TestValidateDoesNotMutate(t *testing.T) {
	v := New(Policy{MinSamples: 1, WeightLen: 2}, nil)

	u := &model.LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{1.0, 2.0},
		NumSamples: 5,
	}

	v.Validate(context.Background(), u)

	if u.Weights[0] != 1.0 || u.Weights[1] != 2.0 || u.NumSamples != 5 {
		t.Error("validation mutated the update")
	}
}
