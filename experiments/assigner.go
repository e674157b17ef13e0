/*
assigner.go - Stable, idempotent variant assignment

PURPOSE:
  Assigns a subject to an experiment variant. The decision is a pure
  function of (subjectID, experimentID, allocation, variant order), so the
  same subject always lands in the same variant regardless of when, or how
  many times, assignment is requested.

ALGORITHM:
  bucket = hash(subjectID + experimentID) in [0,100)
  Walk the explicit VariantOrder accumulating TrafficAllocation; the first
  variant whose cumulative sum exceeds the bucket wins. Floating-point
  shortfall at the tail falls back to the first variant.

RACE SAFETY:
  Concurrent first assignments for the same (experimentID, subjectID) are
  converged by the persistence-boundary uniqueness constraint: a
  flagging.ErrAlreadyAssigned from the store is answered by re-reading the
  winning row, never by erroring.
*/
package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/feature-engine/flagging"
	"github.com/warp/feature-engine/metrics"
)

// Assigner computes and persists participant assignments.
type Assigner struct {
	defs  DefinitionStore
	parts ParticipationStore
	now   func() time.Time
}

// NewAssigner wires an assigner against the given stores.
func NewAssigner(defs DefinitionStore, parts ParticipationStore) *Assigner {
	return &Assigner{defs: defs, parts: parts, now: time.Now}
}

// Assign returns the subject's participant row, creating it on first call.
// Fails with flagging.ErrNotRunning when the experiment is not running and
// flagging.ErrNotEligible when targeting rules exclude the subject.
func (a *Assigner) Assign(ctx context.Context, experimentID, subjectID string, session *SessionInfo) (*Participant, error) {
	existing, err := a.parts.FindParticipant(ctx, experimentID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("find participant: %w", err)
	}
	if existing != nil {
		// Idempotent: a second request returns the row unchanged.
		return existing, nil
	}

	exp, err := a.defs.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if exp == nil {
		return nil, flagging.ErrExperimentNotFound
	}
	if exp.Status != StatusRunning {
		return nil, &flagging.StateError{ExperimentID: experimentID, Status: string(exp.Status), Operation: "assign to"}
	}
	if !eligible(exp, subjectID, session) {
		return nil, flagging.ErrNotEligible
	}

	p := &Participant{
		ID:           uuid.NewString(),
		ExperimentID: experimentID,
		SubjectID:    subjectID,
		Variant:      SelectVariant(exp, subjectID),
		Status:       ParticipantActive,
		AssignedAt:   a.now(),
	}
	if session != nil {
		p.SessionID = session.SessionID
		p.DeviceID = session.DeviceID
		p.UserAttributes = session.UserAttributes
		p.DeviceInfo = session.DeviceInfo
	}

	if err := a.parts.SaveParticipant(ctx, p); err != nil {
		if flagging.IsConflict(err) {
			// Lost a concurrent first-assignment race; the winner's row is
			// the assignment.
			winner, ferr := a.parts.FindParticipant(ctx, experimentID, subjectID)
			if ferr != nil {
				return nil, fmt.Errorf("re-read after assignment race: %w", ferr)
			}
			if winner != nil {
				return winner, nil
			}
		}
		return nil, fmt.Errorf("save participant: %w", err)
	}
	metrics.Assignments.Inc()
	return p, nil
}

// SelectVariant deterministically picks the variant for a subject: the
// cumulative-allocation walk over the experiment's stable variant order.
func SelectVariant(exp *Experiment, subjectID string) string {
	bucket := float64(flagging.BucketFor(subjectID, exp.ID))
	cumulative := 0.0
	for _, v := range exp.VariantOrder {
		cumulative += exp.TrafficAllocation[v]
		if bucket < cumulative {
			return v
		}
	}
	// Allocation summed just under 100 due to floating point; the first
	// variant absorbs the sliver.
	return exp.VariantOrder[0]
}

// eligible applies the experiment's targeting rules at assignment time,
// reduced to the checks that make sense for a subject id plus session info:
// subject allow-list, attribute equality against user attributes and device
// info, and the percentage gate salted with the experiment id.
func eligible(exp *Experiment, subjectID string, session *SessionInfo) bool {
	rules := exp.Targeting
	if rules == nil {
		return true
	}
	configured := false

	if len(rules.Subjects) > 0 {
		configured = true
		for _, s := range rules.Subjects {
			if s == subjectID {
				return true
			}
		}
	}

	if len(rules.Attributes) > 0 {
		configured = true
		if flagging.AttributesMatch(rules.Attributes, mergedAttributes(session)) {
			return true
		}
	}

	if rules.Percentage > 0 {
		configured = true
		if flagging.InBucketRange(subjectID, exp.ID, rules.Percentage) {
			return true
		}
	}

	// Rules present but nothing actually configured: treat as no targeting.
	return !configured
}

func mergedAttributes(session *SessionInfo) map[string]string {
	if session == nil {
		return nil
	}
	merged := make(map[string]string, len(session.UserAttributes)+len(session.DeviceInfo))
	for k, v := range session.UserAttributes {
		merged[k] = v
	}
	for k, v := range session.DeviceInfo {
		merged[k] = v
	}
	return merged
}
