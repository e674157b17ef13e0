package experiments

import (
	"math"
	"time"
)

// =============================================================================
// STATISTICS ENGINE
// =============================================================================

// Significance heuristic thresholds. Deliberately simplified: one variant's
// advantage is declared significant when the experiment has seen more than
// minTotalParticipants subjects and the best and worst conversion rates
// differ by more than minRateGap. This is not a rigorous hypothesis test.
const (
	minTotalParticipants = 100
	minRateGap           = 0.05
)

// zScore95 is the normal quantile for a 95% Wald interval.
const zScore95 = 1.96

// Stats computes experiment results. It is an interface so the heuristic
// below can be replaced by a proper two-proportion z-test or sequential
// test without touching callers.
type Stats interface {
	Compute(exp *Experiment, participants []*Participant, now time.Time) *ResultsSnapshot
}

// HeuristicStats is the default Stats implementation: per-variant rates,
// Wald confidence intervals, winner by highest rate, and the simplified
// significance determination described above. It never fails;
// zero-participant variants report zero rates and a [0,0] interval.
type HeuristicStats struct{}

func (HeuristicStats) Compute(exp *Experiment, participants []*Participant, now time.Time) *ResultsSnapshot {
	counts := make(map[string]int, len(exp.VariantOrder))
	conversions := make(map[string]int, len(exp.VariantOrder))
	for _, p := range participants {
		counts[p.Variant]++
		if p.Status == ParticipantConverted {
			conversions[p.Variant]++
		}
	}

	snapshot := &ResultsSnapshot{
		ComputedAt: now,
		Variants:   make([]VariantResult, 0, len(exp.VariantOrder)),
	}

	// Ties break by first-defined variant order: strictly-greater keeps the
	// earlier variant as winner.
	winnerIdx := -1
	maxRate, minRate := 0.0, 1.0
	for i, name := range exp.VariantOrder {
		vr := variantResult(name, counts[name], conversions[name])
		snapshot.TotalParticipants += vr.Participants
		snapshot.Variants = append(snapshot.Variants, vr)

		if winnerIdx < 0 || vr.ConversionRate > maxRate {
			winnerIdx = i
			maxRate = vr.ConversionRate
		}
		if vr.ConversionRate < minRate {
			minRate = vr.ConversionRate
		}
	}

	if winnerIdx >= 0 {
		snapshot.Variants[winnerIdx].IsWinner = true
		snapshot.Winner = snapshot.Variants[winnerIdx].Variant
	}

	snapshot.IsStatisticallySignificant = snapshot.TotalParticipants > minTotalParticipants &&
		(maxRate-minRate) > minRateGap

	snapshot.MinimumSampleSizeMet = exp.MinimumSampleSize <= 0 ||
		snapshot.TotalParticipants >= exp.MinimumSampleSize

	if exp.StartDate != nil && now.After(*exp.StartDate) {
		snapshot.TestDurationDays = int(now.Sub(*exp.StartDate).Hours() / 24)
	}

	return snapshot
}

func variantResult(name string, participants, conversions int) VariantResult {
	vr := VariantResult{
		Variant:      name,
		Participants: participants,
		Conversions:  conversions,
	}
	if participants == 0 {
		return vr
	}

	rate := float64(conversions) / float64(participants)
	margin := zScore95 * math.Sqrt(rate*(1-rate)/float64(participants))

	vr.ConversionRate = rate
	vr.ConfidenceLow = clampRate(rate - margin)
	vr.ConfidenceHigh = clampRate(rate + margin)
	return vr
}

func clampRate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
