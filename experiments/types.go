/*
Package experiments provides controlled A/B experimentation on top of the
flagging engine: stable variant assignment, conversion tracking, a
simplified significance determination, and experiment lifecycle management
with auto-stop and auto-apply.

KEY CONCEPTS IN THIS FILE (types.go):
  - Experiment: Definition with an explicit ordered variant list, traffic
    allocation, targeting, and stop policy
  - Participant: The durable record binding a subject to a variant
  - ResultsSnapshot: Per-variant rates, confidence intervals, winner

DESIGN PRINCIPLES:
  1. Determinism: Same subject + experiment always yields the same variant
     (consistent hash + fixed variant iteration order).
  2. Idempotent assignment: Exactly one participant row per
     (experimentID, subjectID); a second request returns the existing row.
  3. Durable writes: Assignment and lifecycle store failures are fatal for
     the call - an experiment's validity depends on durable assignment.

SEE ALSO:
  - assigner.go: Variant assignment
  - conversion.go: Conversion tracking
  - stats.go: Significance computation
  - manager.go: Lifecycle orchestration
*/
package experiments

import (
	"context"
	"strings"
	"time"

	"github.com/warp/feature-engine/flagging"
)

// =============================================================================
// EXPERIMENT DEFINITION
// =============================================================================

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// DefaultSignificanceLevel is used when an experiment does not set one.
const DefaultSignificanceLevel = 0.05

// ControlVariant is the required control entry, matched case-insensitively.
const ControlVariant = "control"

// Experiment is an A/B test definition. Identity: ID, scoped to a tenant.
type Experiment struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	Status      Status

	// FlagKey optionally links a delegating ab_test flag; the auto-apply
	// hook writes the winning variant's value back to it.
	FlagKey string

	// VariantOrder is the explicit, stable iteration order for variant
	// keys. Assignment walks this list accumulating traffic allocation, so
	// the order is part of the experiment's identity, not an incidental
	// map ordering.
	VariantOrder []string
	Variants     map[string]any

	// TrafficAllocation maps variant name to its percentage share. Keys are
	// exactly the variant keys; values are non-negative and sum to 100.
	TrafficAllocation map[string]float64

	Targeting *flagging.TargetingRules

	SignificanceLevel   float64
	MinimumSampleSize   int
	MaximumDurationDays int

	AutoStopOnSignificance bool
	AutoApplyWinner        bool

	StartDate      *time.Time
	EndDate        *time.Time
	PlannedEndDate *time.Time

	// Results is the frozen snapshot written on stop/auto-stop.
	Results *ResultsSnapshot

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasVariant reports whether name is a defined variant key.
func (e *Experiment) HasVariant(name string) bool {
	_, ok := e.Variants[name]
	return ok
}

// Control returns the variant key that is the control entry, matched
// case-insensitively, and whether one exists.
func (e *Experiment) Control() (string, bool) {
	for _, v := range e.VariantOrder {
		if strings.EqualFold(v, ControlVariant) {
			return v, true
		}
	}
	return "", false
}

// =============================================================================
// PARTICIPANT
// =============================================================================

type ParticipantStatus string

const (
	ParticipantActive    ParticipantStatus = "active"
	ParticipantConverted ParticipantStatus = "converted"
	ParticipantDropped   ParticipantStatus = "dropped"
	ParticipantExcluded  ParticipantStatus = "excluded"
)

// SessionInfo is the optional session context supplied at assignment time.
type SessionInfo struct {
	SessionID      string
	DeviceID       string
	UserAttributes map[string]string
	DeviceInfo     map[string]string
}

// Participant binds a subject to an experiment variant. Exactly one row
// exists per (ExperimentID, SubjectID); the uniqueness constraint lives at
// the persistence boundary.
type Participant struct {
	ID           string
	ExperimentID string
	SubjectID    string
	Variant      string
	Status       ParticipantStatus

	AssignedAt  time.Time
	ConvertedAt *time.Time
	DroppedAt   *time.Time

	ConversionData map[string]any

	SessionID      string
	DeviceID       string
	UserAttributes map[string]string
	DeviceInfo     map[string]string
}

// =============================================================================
// RESULTS
// =============================================================================

// VariantResult holds the statistics for one variant.
type VariantResult struct {
	Variant        string  `json:"variant"`
	Participants   int     `json:"participants"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`

	// 95% Wald confidence interval for the conversion rate, clamped to
	// [0,1]; [0,0] when the variant has no participants.
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`

	IsWinner bool `json:"is_winner"`
}

// ResultsSnapshot is the experiment-wide statistics at one point in time.
type ResultsSnapshot struct {
	ComputedAt        time.Time `json:"computed_at"`
	TotalParticipants int       `json:"total_participants"`

	// Variants follow the experiment's VariantOrder.
	Variants []VariantResult `json:"variants"`

	Winner                     string `json:"winner,omitempty"`
	IsStatisticallySignificant bool   `json:"is_statistically_significant"`

	// MinimumSampleSizeMet is surfaced for operators but gates nothing:
	// the auto-stop check honors significance only.
	MinimumSampleSizeMet bool `json:"minimum_sample_size_met"`

	TestDurationDays int `json:"test_duration_days"`
}

// ParticipantStats is the per-status breakdown for one experiment.
type ParticipantStats struct {
	Total     int            `json:"total"`
	Active    int            `json:"active"`
	Converted int            `json:"converted"`
	Dropped   int            `json:"dropped"`
	Excluded  int            `json:"excluded"`
	ByVariant map[string]int `json:"by_variant"`
}

// =============================================================================
// COLLABORATOR CONTRACTS
// =============================================================================

// DefinitionStore persists experiment definitions. GetExperiment returns
// (nil, nil) for a missing id; callers map that to ErrExperimentNotFound
// where absence is fatal.
type DefinitionStore interface {
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	SaveExperiment(ctx context.Context, exp *Experiment) error
	// ListExperiments filters by tenant (empty means all tenants) and
	// status (empty means any).
	ListExperiments(ctx context.Context, tenantID string, status Status) ([]*Experiment, error)
}

// ParticipationStore persists participant rows. SaveParticipant must
// enforce (ExperimentID, SubjectID) uniqueness and surface violations as
// flagging.ErrAlreadyAssigned.
type ParticipationStore interface {
	FindParticipant(ctx context.Context, experimentID, subjectID string) (*Participant, error)
	SaveParticipant(ctx context.Context, p *Participant) error
	UpdateParticipant(ctx context.Context, p *Participant) error
	ListParticipants(ctx context.Context, experimentID string) ([]*Participant, error)
}

// WinnerApplier is the external hook invoked when an auto-apply experiment
// completes with a winner (e.g. updating a delegated flag's value).
type WinnerApplier interface {
	ApplyWinner(ctx context.Context, exp *Experiment, winningVariant string) error
}

// NoopApplier is the default winner-application hook.
type NoopApplier struct{}

func (NoopApplier) ApplyWinner(context.Context, *Experiment, string) error { return nil }
