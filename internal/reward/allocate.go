// Package reward computes integer reward allocations from the
// participant ledger. Pure and deterministic: identical ledgers produce
// identical allocation sequences.
package reward

import (
	"math"
	"sort"

	"FedMint/internal/model"
)

// Result holds the outcome of one allocation round.
type Result struct {
	Allocations []model.RewardAllocation // Allocations in ascending participant-ID order
	Shortfall   uint64                   // Shortfall is the total clamped off to respect the budget
}

// Allocate splits totalUnits across participants in proportion to their
// participation percentage.
//
// The percentages are not assumed to sum to 1: each share is computed
// against the actual sum. Amounts round half away from zero. A running
// budget clamp, applied in ascending participant-ID order, guarantees the
// issued total never exceeds totalUnits; anything clamped off is reported
// as Shortfall rather than failing the round.
//
// A zero percentage sum (no participants, or all-zero shares) yields an
// empty result.
func Allocate(participants map[string]*model.Participant, totalUnits uint64) Result {
	ids := make([]string, 0, len(participants))
	for id := range participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var totalShare float64
	for _, id := range ids {
		totalShare += participants[id].Participation
	}

	if totalShare == 0 || totalUnits == 0 {
		return Result{}
	}

	result := Result{
		Allocations: make([]model.RewardAllocation, 0, len(ids)),
	}

	remaining := totalUnits

	for _, id := range ids {
		share := participants[id].Participation / totalShare
		amount := uint64(math.Round(float64(totalUnits) * share))

		if amount > remaining {
			result.Shortfall += amount - remaining
			amount = remaining
		}
		remaining -= amount

		result.Allocations = append(result.Allocations, model.RewardAllocation{
			Participant: id,
			Amount:      amount,
		})
	}

	return result
}
