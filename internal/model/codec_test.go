package model

import (
	"bytes"
	"math"
	"testing"
)

// testModel builds a populated global model for codec tests.
func testModel() *GlobalModel {
	m := NewGlobalModel([]float64{0.25, -1.5, 3.0})
	m.Version = 7
	m.NumSamples = 42
	m.Participants["node-b"] = &Participant{ID: "node-b", Samples: 12, Participation: 12.0 / 42.0, RewardsIssued: 3}
	m.Participants["node-a"] = &Participant{ID: "node-a", Samples: 30, Participation: 30.0 / 42.0, RewardsIssued: 7}

	return m
}

func TestGlobalModelRoundTrip(t *testing.T) {
	m := testModel()

	decoded, err := DecodeGlobalModel(EncodeGlobalModel(m))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Version != m.Version {
		t.Errorf("version: expected %d, got %d", m.Version, decoded.Version)
	}

	if decoded.NumSamples != m.NumSamples {
		t.Errorf("numSamples: expected %d, got %d", m.NumSamples, decoded.NumSamples)
	}

	if len(decoded.Weights) != len(m.Weights) {
		t.Fatalf("weights: expected %d entries, got %d", len(m.Weights), len(decoded.Weights))
	}

	for i, w := range m.Weights {
		if decoded.Weights[i] != w {
			t.Errorf("weight %d: expected %v, got %v", i, w, decoded.Weights[i])
		}
	}

	if len(decoded.Participants) != 2 {
		t.Fatalf("expected 2 participants, got %d", len(decoded.Participants))
	}

	for id, p := range m.Participants {
		got, ok := decoded.Participants[id]
		if !ok {
			t.Fatalf("missing participant %s", id)
		}

		if got.Samples != p.Samples || got.RewardsIssued != p.RewardsIssued {
			t.Errorf("participant %s: expected %+v, got %+v", id, p, got)
		}

		if got.Participation != p.Participation {
			t.Errorf("participant %s participation: expected %v, got %v", id, p.Participation, got.Participation)
		}
	}
}

func TestGlobalModelEncodingCanonical(t *testing.T) {
	// Identical state must encode to identical bytes regardless of map
	// insertion order.
	a := testModel()

	b := NewGlobalModel([]float64{0.25, -1.5, 3.0})
	b.Version = 7
	b.NumSamples = 42
	b.Participants["node-a"] = &Participant{ID: "node-a", Samples: 30, Participation: 30.0 / 42.0, RewardsIssued: 7}
	b.Participants["node-b"] = &Participant{ID: "node-b", Samples: 12, Participation: 12.0 / 42.0, RewardsIssued: 3}

	if !bytes.Equal(EncodeGlobalModel(a), EncodeGlobalModel(b)) {
		t.Error("expected identical encodings for identical state")
	}
}

func TestGlobalModelDecodeTruncated(t *testing.T) {
	data := EncodeGlobalModel(testModel())

	for _, n := range []int{0, 1, 2, 10, len(data) - 1} {
		if _, err := DecodeGlobalModel(data[:n]); err == nil {
			t.Errorf("expected error decoding %d of %d bytes", n, len(data))
		}
	}
}

func TestGlobalModelDecodeTrailingBytes(t *testing.T) {
	data := append(EncodeGlobalModel(testModel()), 0xff)

	if _, err := DecodeGlobalModel(data); err == nil {
		t.Error("expected error on trailing bytes")
	}
}

func TestLocalUpdateRoundTrip(t *testing.T) {
	u := &LocalUpdate{
		Submitter:  "node-a",
		Weights:    []float64{1.0, math.SmallestNonzeroFloat64, -0.0},
		NumSamples: 10,
		Scores:     []float64{0.91, 0.88},
	}

	decoded, err := DecodeLocalUpdate(EncodeLocalUpdate(u))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Submitter != u.Submitter || decoded.NumSamples != u.NumSamples {
		t.Errorf("expected %+v, got %+v", u, decoded)
	}

	for i, w := range u.Weights {
		// Exact bit comparison, including the sign of -0.0.
		if math.Float64bits(decoded.Weights[i]) != math.Float64bits(w) {
			t.Errorf("weight %d: expected bits %x, got %x", i, math.Float64bits(w), math.Float64bits(decoded.Weights[i]))
		}
	}

	if len(decoded.Scores) != 2 || decoded.Scores[0] != 0.91 {
		t.Errorf("scores: expected %v, got %v", u.Scores, decoded.Scores)
	}
}

func TestScoreRecordRoundTrip(t *testing.T) {
	rec := &ScoreRecord{
		Submitter: "node-a",
		RoundID:   "abc123",
		Scores:    []float64{0.5},
	}

	decoded, err := DecodeScoreRecord(EncodeScoreRecord(rec))
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	if decoded.Submitter != rec.Submitter || decoded.RoundID != rec.RoundID {
		t.Errorf("expected %+v, got %+v", rec, decoded)
	}

	if len(decoded.Scores) != 1 || decoded.Scores[0] != 0.5 {
		t.Errorf("scores: expected %v, got %v", rec.Scores, decoded.Scores)
	}
}

func TestRoundIDDeterministic(t *testing.T) {
	a := testModel()
	b := testModel()

	if a.RoundID() != b.RoundID() {
		t.Error("expected identical round ids for identical snapshots")
	}

	b.Version++
	if a.RoundID() == b.RoundID() {
		t.Error("expected different round ids for different versions")
	}

	c := testModel()
	c.Weights[0] += 1e-12
	if a.RoundID() == c.RoundID() {
		t.Error("expected different round ids for different weights")
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := testModel()
	clone := m.Clone()

	clone.Weights[0] = 99
	clone.Participants["node-a"].Samples = 0
	clone.Participants["new"] = &Participant{ID: "new"}

	if m.Weights[0] == 99 {
		t.Error("clone shares weight slice with original")
	}

	if m.Participants["node-a"].Samples != 30 {
		t.Error("clone shares participant structs with original")
	}

	if _, ok := m.Participants["new"]; ok {
		t.Error("clone shares participant map with original")
	}
}
