/*
conversion.go - Conversion tracking

PURPOSE:
  Records a conversion event against an active assignment. Conversion is
  one-way and once-only: a participant that already converted (or dropped)
  is left untouched, and tracking for an unknown subject is a no-op rather
  than an error - conversion beacons fire from clients that may never have
  been assigned.

AUTO-STOP:
  When the experiment has AutoStopOnSignificance, the manager's stop check
  runs synchronously after the write via the onConverted callback.
*/
package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/feature-engine/metrics"
)

// Tracker records conversions.
type Tracker struct {
	defs  DefinitionStore
	parts ParticipationStore
	now   func() time.Time

	// onConverted runs after a successful conversion write; the manager
	// installs its auto-stop check here.
	onConverted func(ctx context.Context, exp *Experiment)
}

// NewTracker wires a conversion tracker.
func NewTracker(defs DefinitionStore, parts ParticipationStore) *Tracker {
	return &Tracker{defs: defs, parts: parts, now: time.Now}
}

// TrackConversion marks the subject's participation converted. at overrides
// the conversion timestamp when non-zero (backfilled events); eventData is
// stored verbatim on the participant.
func (t *Tracker) TrackConversion(ctx context.Context, experimentID, subjectID string, eventData map[string]any, at time.Time) error {
	p, err := t.parts.FindParticipant(ctx, experimentID, subjectID)
	if err != nil {
		return fmt.Errorf("find participant: %w", err)
	}
	if p == nil || p.Status != ParticipantActive {
		// Unknown subject, or already converted/dropped: conversions are
		// recorded once per participant.
		return nil
	}

	when := at
	if when.IsZero() {
		when = t.now()
	}
	p.Status = ParticipantConverted
	p.ConvertedAt = &when
	p.ConversionData = eventData

	if err := t.parts.UpdateParticipant(ctx, p); err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	metrics.Conversions.Inc()

	if t.onConverted != nil {
		exp, err := t.defs.GetExperiment(ctx, experimentID)
		if err == nil && exp != nil && exp.AutoStopOnSignificance {
			t.onConverted(ctx, exp)
		}
	}
	return nil
}
