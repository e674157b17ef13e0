package experiments_test

import (
	"context"
	"testing"
	"time"

	"github.com/warp/feature-engine/experiments"
)

func TestTrackConversion_MarksParticipant(t *testing.T) {
	// GIVEN: An active participant
	// WHEN: A conversion is tracked with event data
	// THEN: The participant is converted with the data and a timestamp

	m, store := newTestManager(t)
	ctx := context.Background()
	exp := startedExperiment(t, m)

	if _, err := m.AssignParticipant(ctx, exp.ID, "u1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	data := map[string]any{"order_total": 42.5}
	if err := m.TrackConversion(ctx, exp.ID, "u1", data, time.Time{}); err != nil {
		t.Fatalf("convert: %v", err)
	}

	p, err := store.FindParticipant(ctx, exp.ID, "u1")
	if err != nil || p == nil {
		t.Fatalf("find participant: %v", err)
	}
	if p.Status != experiments.ParticipantConverted {
		t.Errorf("status = %q, want converted", p.Status)
	}
	if p.ConvertedAt == nil || p.ConvertedAt.IsZero() {
		t.Error("zero event time should default to now")
	}
	if p.ConversionData["order_total"] != 42.5 {
		t.Errorf("event data not stored: %v", p.ConversionData)
	}
}

func TestTrackConversion_BackfilledTimestamp(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	exp := startedExperiment(t, m)

	if _, err := m.AssignParticipant(ctx, exp.ID, "u1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	at := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	if err := m.TrackConversion(ctx, exp.ID, "u1", nil, at); err != nil {
		t.Fatalf("convert: %v", err)
	}

	p, _ := store.FindParticipant(ctx, exp.ID, "u1")
	if p.ConvertedAt == nil || !p.ConvertedAt.Equal(at) {
		t.Errorf("converted at = %v, want the supplied %v", p.ConvertedAt, at)
	}
}

func TestTrackConversion_OnceOnly(t *testing.T) {
	// GIVEN: A participant that already converted
	// WHEN: A second conversion fires
	// THEN: The first timestamp and data are kept

	m, store := newTestManager(t)
	ctx := context.Background()
	exp := startedExperiment(t, m)

	if _, err := m.AssignParticipant(ctx, exp.ID, "u1", nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	first := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	if err := m.TrackConversion(ctx, exp.ID, "u1", map[string]any{"n": 1}, first); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if err := m.TrackConversion(ctx, exp.ID, "u1", map[string]any{"n": 2}, first.Add(time.Hour)); err != nil {
		t.Fatalf("second convert should be a silent no-op, got %v", err)
	}

	p, _ := store.FindParticipant(ctx, exp.ID, "u1")
	if !p.ConvertedAt.Equal(first) {
		t.Errorf("converted at = %v, second conversion must not move it", p.ConvertedAt)
	}
	if p.ConversionData["n"] != 1 {
		t.Errorf("conversion data overwritten: %v", p.ConversionData)
	}
}

func TestTrackConversion_UnknownSubjectIsNoop(t *testing.T) {
	// Conversion beacons fire from clients that may never have been
	// assigned; those land as no-ops, not errors.
	m, _ := newTestManager(t)
	exp := startedExperiment(t, m)

	if err := m.TrackConversion(context.Background(), exp.ID, "never-assigned", nil, time.Time{}); err != nil {
		t.Errorf("unknown subject should be a no-op, got %v", err)
	}
}
