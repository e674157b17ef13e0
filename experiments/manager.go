/*
manager.go - Experiment lifecycle orchestration

PURPOSE:
  Owns the experiment state machine and wires the assigner, conversion
  tracker, and statistics engine together:

    draft --Start--> running --Stop--> completed
                     running --Cancel--> cancelled
                     running <--Pause/Resume--> paused

  Stop computes and freezes the final results snapshot. Completed and
  cancelled are terminal.

VALIDATION ON CREATE:
  Variants must be non-empty and contain a control entry (case-insensitive).
  Traffic allocation must cover exactly the variant key set, with each value
  in [0,100] and an exact-to-0.01 sum of 100; when omitted, the manager
  distributes equally with the remainder on the first variant so the sum is
  exact. Sums are checked with decimals, not accumulated floats.

AUTO-STOP:
  After each conversion on an AutoStopOnSignificance experiment the manager
  recomputes results; significance plus a winner completes the experiment
  and, with AutoApplyWinner, invokes the winner-application hook. This check
  honors significance only - MinimumSampleSize and MaximumDurationDays do
  not gate it. The duration bound is enforced separately by the API sweeper
  via CompleteOverdue.
*/
package experiments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/feature-engine/flagging"
	"github.com/warp/feature-engine/metrics"
)

// allocationTolerance is how far from 100 an allocation sum may drift.
var allocationTolerance = decimal.NewFromFloat(0.01)

// Manager orchestrates experiment lifecycle, assignment, conversion and
// statistics. Construct with NewManager; safe for concurrent use.
type Manager struct {
	defs  DefinitionStore
	parts ParticipationStore

	stats    Stats
	assigner *Assigner
	tracker  *Tracker
	applier  WinnerApplier
	log      *zap.Logger
	now      func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStats substitutes the statistics engine.
func WithStats(s Stats) ManagerOption {
	return func(m *Manager) { m.stats = s }
}

// WithApplier installs the winner-application hook.
func WithApplier(a WinnerApplier) ManagerOption {
	return func(m *Manager) { m.applier = a }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithClock overrides the time source for the manager and its components.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager wires an experiment manager against the given stores.
func NewManager(defs DefinitionStore, parts ParticipationStore, opts ...ManagerOption) *Manager {
	m := &Manager{
		defs:     defs,
		parts:    parts,
		stats:    HeuristicStats{},
		assigner: NewAssigner(defs, parts),
		tracker:  NewTracker(defs, parts),
		applier:  NoopApplier{},
		log:      zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.assigner.now = m.now
	m.tracker.now = m.now
	m.tracker.onConverted = m.autoStopCheck
	return m
}

// =============================================================================
// CREATION AND VALIDATION
// =============================================================================

// Create validates and persists a new experiment in draft.
func (m *Manager) Create(ctx context.Context, exp *Experiment) error {
	if err := m.validate(exp); err != nil {
		return err
	}
	if exp.ID == "" {
		exp.ID = uuid.NewString()
	}
	exp.Status = StatusDraft
	if exp.SignificanceLevel == 0 {
		exp.SignificanceLevel = DefaultSignificanceLevel
	}
	now := m.now()
	exp.CreatedAt = now
	exp.UpdatedAt = now
	return m.defs.SaveExperiment(ctx, exp)
}

func (m *Manager) validate(exp *Experiment) error {
	if exp.TenantID == "" {
		return &flagging.ValidationError{Field: "tenant_id", Detail: "required"}
	}
	if len(exp.VariantOrder) == 0 {
		return &flagging.ValidationError{Field: "variants", Detail: "at least one variant is required"}
	}
	if len(exp.VariantOrder) != len(exp.Variants) {
		return &flagging.ValidationError{Field: "variants", Detail: "variant order and variant map must cover the same keys"}
	}
	for _, name := range exp.VariantOrder {
		if !exp.HasVariant(name) {
			return &flagging.ValidationError{Field: "variants", Detail: fmt.Sprintf("ordered variant %q has no definition", name)}
		}
	}
	if _, ok := exp.Control(); !ok {
		return &flagging.ValidationError{Field: "variants", Detail: "a control variant is required"}
	}

	if len(exp.TrafficAllocation) == 0 {
		exp.TrafficAllocation = equalSplit(exp.VariantOrder)
		return nil
	}
	return validateAllocation(exp.VariantOrder, exp.TrafficAllocation)
}

// equalSplit distributes 100 evenly, putting the division remainder on the
// first variant so the sum is exactly 100.
func equalSplit(order []string) map[string]float64 {
	n := int64(len(order))
	share := decimal.NewFromInt(100).DivRound(decimal.NewFromInt(n), 4)
	remainder := decimal.NewFromInt(100).Sub(share.Mul(decimal.NewFromInt(n)))

	allocation := make(map[string]float64, n)
	for i, name := range order {
		v := share
		if i == 0 {
			v = v.Add(remainder)
		}
		allocation[name], _ = v.Float64()
	}
	return allocation
}

func validateAllocation(order []string, allocation map[string]float64) error {
	if len(allocation) != len(order) {
		return &flagging.ValidationError{Field: "traffic_allocation", Detail: "keys must exactly match the variant set"}
	}
	sum := decimal.Zero
	for _, name := range order {
		pct, ok := allocation[name]
		if !ok {
			return &flagging.ValidationError{Field: "traffic_allocation", Detail: fmt.Sprintf("missing allocation for variant %q", name)}
		}
		if pct < 0 || pct > 100 {
			return &flagging.ValidationError{Field: "traffic_allocation", Detail: fmt.Sprintf("allocation for %q must be in [0,100]", name)}
		}
		sum = sum.Add(decimal.NewFromFloat(pct))
	}
	if sum.Sub(decimal.NewFromInt(100)).Abs().GreaterThan(allocationTolerance) {
		return &flagging.ValidationError{Field: "traffic_allocation", Detail: fmt.Sprintf("must sum to 100, got %s", sum)}
	}
	return nil
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start moves a draft experiment to running, stamping StartDate and deriving
// PlannedEndDate from MaximumDurationDays when set.
func (m *Manager) Start(ctx context.Context, id string) (*Experiment, error) {
	exp, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != StatusDraft {
		return nil, &flagging.StateError{ExperimentID: id, Status: string(exp.Status), Operation: "start"}
	}
	now := m.now()
	exp.Status = StatusRunning
	exp.StartDate = &now
	if exp.MaximumDurationDays > 0 {
		planned := now.AddDate(0, 0, exp.MaximumDurationDays)
		exp.PlannedEndDate = &planned
	}
	exp.UpdatedAt = now
	if err := m.defs.SaveExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Stop completes an experiment from any non-terminal state, computing and
// freezing the final results snapshot.
func (m *Manager) Stop(ctx context.Context, id string) (*Experiment, error) {
	exp, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, &flagging.StateError{ExperimentID: id, Status: string(exp.Status), Operation: "stop"}
	}
	return m.complete(ctx, exp)
}

// Cancel abandons an experiment from any non-terminal state. No results are
// frozen; a cancelled experiment was never acted on.
func (m *Manager) Cancel(ctx context.Context, id string) (*Experiment, error) {
	exp, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() {
		return nil, &flagging.StateError{ExperimentID: id, Status: string(exp.Status), Operation: "cancel"}
	}
	now := m.now()
	exp.Status = StatusCancelled
	exp.EndDate = &now
	exp.UpdatedAt = now
	if err := m.defs.SaveExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// Pause suspends a running experiment. Auto-stop never pauses; this is an
// operator action.
func (m *Manager) Pause(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, StatusRunning, StatusPaused, "pause")
}

// Resume returns a paused experiment to running.
func (m *Manager) Resume(ctx context.Context, id string) (*Experiment, error) {
	return m.transition(ctx, id, StatusPaused, StatusRunning, "resume")
}

func (m *Manager) transition(ctx context.Context, id string, from, to Status, op string) (*Experiment, error) {
	exp, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status != from {
		return nil, &flagging.StateError{ExperimentID: id, Status: string(exp.Status), Operation: op}
	}
	exp.Status = to
	exp.UpdatedAt = m.now()
	if err := m.defs.SaveExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

func (m *Manager) complete(ctx context.Context, exp *Experiment) (*Experiment, error) {
	participants, err := m.parts.ListParticipants(ctx, exp.ID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	now := m.now()
	exp.Results = m.stats.Compute(exp, participants, now)
	exp.Status = StatusCompleted
	exp.EndDate = &now
	exp.UpdatedAt = now
	if err := m.defs.SaveExperiment(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// =============================================================================
// PARTICIPATION
// =============================================================================

// AssignParticipant assigns a stable variant to the subject (idempotent).
func (m *Manager) AssignParticipant(ctx context.Context, experimentID, subjectID string, session *SessionInfo) (*Participant, error) {
	return m.assigner.Assign(ctx, experimentID, subjectID, session)
}

// TrackConversion records a conversion for the subject's assignment. A zero
// at uses the current time.
func (m *Manager) TrackConversion(ctx context.Context, experimentID, subjectID string, eventData map[string]any, at time.Time) error {
	return m.tracker.TrackConversion(ctx, experimentID, subjectID, eventData, at)
}

// =============================================================================
// RESULTS AND STATS
// =============================================================================

// Results returns the experiment's results: the frozen snapshot for a
// completed experiment, a live computation otherwise.
func (m *Manager) Results(ctx context.Context, id string) (*ResultsSnapshot, error) {
	exp, err := m.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if exp.Status.Terminal() && exp.Results != nil {
		return exp.Results, nil
	}
	participants, err := m.parts.ListParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return m.stats.Compute(exp, participants, m.now()), nil
}

// ParticipantStats returns totals by status and by variant.
func (m *Manager) ParticipantStats(ctx context.Context, id string) (*ParticipantStats, error) {
	if _, err := m.load(ctx, id); err != nil {
		return nil, err
	}
	participants, err := m.parts.ListParticipants(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	stats := &ParticipantStats{ByVariant: make(map[string]int)}
	for _, p := range participants {
		stats.Total++
		stats.ByVariant[p.Variant]++
		switch p.Status {
		case ParticipantActive:
			stats.Active++
		case ParticipantConverted:
			stats.Converted++
		case ParticipantDropped:
			stats.Dropped++
		case ParticipantExcluded:
			stats.Excluded++
		}
	}
	return stats, nil
}

// Get loads one experiment, mapping absence to ErrExperimentNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*Experiment, error) {
	return m.load(ctx, id)
}

// List returns experiments for a tenant (empty tenant means all), optionally
// filtered by status.
func (m *Manager) List(ctx context.Context, tenantID string, status Status) ([]*Experiment, error) {
	return m.defs.ListExperiments(ctx, tenantID, status)
}

// =============================================================================
// AUTO-STOP
// =============================================================================

// autoStopCheck runs synchronously after each conversion on experiments
// with AutoStopOnSignificance. Significance plus a winner completes the
// experiment; MinimumSampleSize and MaximumDurationDays are deliberately
// not consulted here.
func (m *Manager) autoStopCheck(ctx context.Context, exp *Experiment) {
	if exp.Status != StatusRunning {
		return
	}
	participants, err := m.parts.ListParticipants(ctx, exp.ID)
	if err != nil {
		m.log.Warn("auto-stop check: listing participants failed",
			zap.String("experiment", exp.ID), zap.Error(err))
		return
	}
	results := m.stats.Compute(exp, participants, m.now())
	if !results.IsStatisticallySignificant || results.Winner == "" {
		return
	}

	if _, err := m.complete(ctx, exp); err != nil {
		m.log.Error("auto-stop: completing experiment failed",
			zap.String("experiment", exp.ID), zap.Error(err))
		return
	}
	metrics.AutoStops.Inc()
	m.log.Info("experiment auto-stopped on significance",
		zap.String("experiment", exp.ID),
		zap.String("winner", results.Winner))

	if exp.AutoApplyWinner {
		if err := m.applier.ApplyWinner(ctx, exp, results.Winner); err != nil {
			m.log.Error("winner application failed",
				zap.String("experiment", exp.ID),
				zap.String("winner", results.Winner),
				zap.Error(err))
		}
	}
}

// CompleteOverdue stops every running experiment whose PlannedEndDate has
// passed. This is the duration guard the conversion-time auto-stop check
// does not enforce; the API sweeper calls it periodically. Returns the ids
// of experiments it completed.
func (m *Manager) CompleteOverdue(ctx context.Context) ([]string, error) {
	running, err := m.defs.ListExperiments(ctx, "", StatusRunning)
	if err != nil {
		return nil, err
	}
	now := m.now()
	var completed []string
	for _, exp := range running {
		if exp.PlannedEndDate == nil || now.Before(*exp.PlannedEndDate) {
			continue
		}
		if _, err := m.complete(ctx, exp); err != nil {
			m.log.Error("sweep: completing overdue experiment failed",
				zap.String("experiment", exp.ID), zap.Error(err))
			continue
		}
		metrics.SweepStops.Inc()
		completed = append(completed, exp.ID)
	}
	return completed, nil
}

func (m *Manager) load(ctx context.Context, id string) (*Experiment, error) {
	exp, err := m.defs.GetExperiment(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load experiment: %w", err)
	}
	if exp == nil {
		return nil, flagging.ErrExperimentNotFound
	}
	return exp, nil
}
