package model

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/zeebo/blake3"
)

// LocalUpdate is one participant's locally trained contribution.
// Immutable once received; the engine never mutates it.
type LocalUpdate struct {
	Submitter  string    // Submitter is the participant identifier
	Weights    []float64 // Weights is the trained weight vector
	NumSamples uint64    // NumSamples is the number of local training samples
	Scores     []float64 // Scores holds optional evaluation scores for audit
}

// Participant tracks one submitter's cumulative contribution.
// Entries are created on first accepted update and never deleted.
type Participant struct {
	ID            string  // ID is the participant identifier
	Samples       uint64  // Samples is the cumulative sample contribution
	Participation float64 // Participation is Samples / GlobalModel.NumSamples, in [0,1]
	RewardsIssued uint64  // RewardsIssued is the cumulative reward units issued
}

// GlobalModel is the shared aggregate model state.
// Owned by the store; mutated only through the merge operation.
type GlobalModel struct {
	Version      uint64                  // Version increments on every persisted change
	Weights      []float64               // Weights is the aggregated weight vector
	NumSamples   uint64                  // NumSamples is the cumulative accepted sample count
	Participants map[string]*Participant // Participants maps participant ID to its ledger entry
}

// RewardAllocation is one participant's share of an allocation round.
// Ephemeral: only its effect on the distribution log is persisted.
type RewardAllocation struct {
	Participant string // Participant is the participant identifier
	Amount      uint64 // Amount is the reward units allocated
}

// ScoreRecord preserves the evaluation scores attached to a submission.
type ScoreRecord struct {
	Submitter string    // Submitter is the participant identifier
	RoundID   string    // RoundID is the round the submission was merged in
	Scores    []float64 // Scores are the reported evaluation scores
}

// NewGlobalModel creates an empty global model with the given weight vector.
// The initial version is 0; the store assigns 1 on first save.
func NewGlobalModel(weights []float64) *GlobalModel {
	w := make([]float64, len(weights))
	copy(w, weights)

	return &GlobalModel{
		Weights:      w,
		Participants: make(map[string]*Participant),
	}
}

// Clone returns a deep copy of the model.
// Merge operates on a clone so a failed round leaves no partial mutation.
func (m *GlobalModel) Clone() *GlobalModel {
	weights := make([]float64, len(m.Weights))
	copy(weights, m.Weights)

	participants := make(map[string]*Participant, len(m.Participants))
	for id, p := range m.Participants {
		cp := *p
		participants[id] = &cp
	}

	return &GlobalModel{
		Version:      m.Version,
		Weights:      weights,
		NumSamples:   m.NumSamples,
		Participants: participants,
	}
}

// ParticipantIDs returns all participant IDs in ascending order.
// Sorted for deterministic allocation and issuance order.
func (m *GlobalModel) ParticipantIDs() []string {
	ids := make([]string, 0, len(m.Participants))
	for id := range m.Participants {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// WeightsDigest computes the blake3 digest of the weight vector.
// Weights are serialized as little-endian IEEE 754 bits, so the digest
// is bit-exact across runs.
func (m *GlobalModel) WeightsDigest() [32]byte {
	buf := make([]byte, 8*len(m.Weights))
	for i, w := range m.Weights {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(w))
	}

	return blake3.Sum256(buf)
}

// RoundID derives the allocation round identifier for this snapshot.
// Keyed by version, sample count and weights digest: re-running allocation
// against the same snapshot yields the same id, which is what makes the
// distribution commit idempotent.
func (m *GlobalModel) RoundID() [32]byte {
	digest := m.WeightsDigest()

	buf := make([]byte, 16+len(digest))
	binary.LittleEndian.PutUint64(buf[0:8], m.Version)
	binary.LittleEndian.PutUint64(buf[8:16], m.NumSamples)
	copy(buf[16:], digest[:])

	return blake3.Sum256(buf)
}
