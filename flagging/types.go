/*
Package flagging provides the core feature-flag evaluation engine.

PURPOSE:
  This package contains the types and algorithms for deciding what value a
  named feature resolves to for a given tenant/subject/context: deterministic
  bucketing, targeting-rule matching, rollout-strategy time functions, and a
  read-mostly evaluation cache with tenant-scoped invalidation.

KEY CONCEPTS IN THIS FILE (types.go):
  - FeatureFlag: The flag definition (strategy, rules, variants, window)
  - EvaluationContext: Who is asking (tenant, subject, attributes)
  - EvaluationResult: What they got (value, variant, rollout percentage)
  - EvaluationRecord: Audit trail entry for one evaluation

DESIGN PRINCIPLES:
  1. Determinism: Decisions are pure functions of the stable hash plus the
     flag definition. A cold cache reproduces the same decision.
  2. Degrade, never break: The evaluation path falls back to the default
     value on any store failure. Callers never see an error.
  3. Explicit collaborators: Stores are narrow interfaces (store.go), owned
     by the caller, so tests can instantiate isolated engines.

USAGE:
  engine := flagging.NewEngine(defs, audit, flagging.NewMemoryCache(ttl), log)
  result := engine.Evaluate(ctx, flagging.EvaluateRequest{
      TenantID:    "clinic-7",
      FlagKey:     "dark-mode",
      ContextType: flagging.ContextUser,
      ContextID:   "u-123",
  })

SEE ALSO:
  - hash.go: Consistent bucketing
  - targeting.go: Targeting-rule matching
  - rollout.go: Rollout-strategy evaluation
  - engine.go: Orchestration
*/
package flagging

import "time"

// =============================================================================
// VALUE TYPES
// =============================================================================

// ValueType constrains what a flag's resolved value looks like.
type ValueType string

const (
	ValueBoolean ValueType = "boolean"
	ValueString  ValueType = "string"
	ValueNumber  ValueType = "number"
	ValueJSON    ValueType = "json"
)

// TypeDefault returns the zero value for a value type. Used when a flag is
// missing or inactive and the caller supplied no fallback.
func TypeDefault(vt ValueType) any {
	switch vt {
	case ValueBoolean:
		return false
	case ValueString:
		return ""
	case ValueNumber:
		return float64(0)
	default:
		return nil
	}
}

// =============================================================================
// FLAG DEFINITION
// =============================================================================

type FlagStatus string

const (
	FlagDraft    FlagStatus = "draft"
	FlagActive   FlagStatus = "active"
	FlagInactive FlagStatus = "inactive"
	FlagArchived FlagStatus = "archived"
)

type RolloutStrategy string

const (
	StrategyImmediate  RolloutStrategy = "immediate"
	StrategyPercentage RolloutStrategy = "percentage"
	StrategyGradual    RolloutStrategy = "gradual"
	StrategyTargeted   RolloutStrategy = "targeted"
	StrategyABTest     RolloutStrategy = "ab_test"
)

// RolloutConfig carries the strategy-specific parameters. Only the fields
// relevant to the flag's strategy are consulted.
type RolloutConfig struct {
	// percentage strategy
	Percentage float64 `json:"percentage,omitempty"`

	// gradual strategy: linear ramp from 0 to MaxPercentage over [Start, End]
	StartDate     *time.Time `json:"start_date,omitempty"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	MaxPercentage float64    `json:"max_percentage,omitempty"`

	// ab_test strategy: experiment that owns variant selection
	ExperimentID string `json:"experiment_id,omitempty"`
}

// TargetingRules is an explicit override that bypasses the rollout
// percentage for matching subjects. Matching order is fixed: subjects
// allow-list, then attribute equality, then percentage gate.
type TargetingRules struct {
	Subjects   []string          `json:"subjects,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Percentage float64           `json:"percentage,omitempty"`
	Variant    string            `json:"variant,omitempty"`
}

// FeatureFlag is the definition the engine evaluates against.
// Identity: (TenantID, Key) unique.
type FeatureFlag struct {
	ID       string
	TenantID string
	Key      string
	Name     string

	ValueType ValueType
	Status    FlagStatus
	Strategy  RolloutStrategy

	DefaultValue any
	Rollout      RolloutConfig
	Targeting    *TargetingRules

	// Variants maps a variant name to the value that variant resolves to.
	Variants map[string]any

	// Optional availability window [StartDate, EndDate).
	StartDate *time.Time
	EndDate   *time.Time

	// Running counters, mutated only by the evaluation path.
	// Monotonic, best-effort (approximate analytics, not billing-grade).
	EvaluationCount         int64
	PositiveEvaluationCount int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VariantValue resolves a named variant to its value, falling back to the
// flag's default value when the variant is absent or unnamed.
func (f *FeatureFlag) VariantValue(variant string) any {
	if variant == "" {
		return f.DefaultValue
	}
	if v, ok := f.Variants[variant]; ok {
		return v
	}
	return f.DefaultValue
}

// InWindow reports whether the flag's availability window covers t.
// The window is half-open: [StartDate, EndDate).
func (f *FeatureFlag) InWindow(t time.Time) bool {
	if f.StartDate != nil && t.Before(*f.StartDate) {
		return false
	}
	if f.EndDate != nil && !t.Before(*f.EndDate) {
		return false
	}
	return true
}

// =============================================================================
// EVALUATION CONTEXT AND RESULT
// =============================================================================

// ContextType identifies what kind of subject is being evaluated.
type ContextType string

const (
	ContextUser    ContextType = "user"
	ContextSession ContextType = "session"
	ContextDevice  ContextType = "device"
	ContextTenant  ContextType = "tenant"
)

// EvaluationContext is the subject of one evaluation.
type EvaluationContext struct {
	TenantID string
	FlagKey  string
	Type     ContextType
	ID       string
	Data     map[string]string
}

// Salt returns the hash input for this context: the subject id salted with
// the flag key, so the same subject gets independent buckets across flags.
func (c EvaluationContext) Salt() string {
	return c.ID + c.FlagKey
}

// EvaluationResult is what the engine hands back to callers.
type EvaluationResult struct {
	FlagKey           string    `json:"flag_key"`
	Value             any       `json:"value"`
	Variant           string    `json:"variant,omitempty"`
	IsTargeted        bool      `json:"is_targeted"`
	RolloutPercentage float64   `json:"rollout_percentage"`
	EvaluatedAt       time.Time `json:"evaluated_at"`
}

// =============================================================================
// AUDIT RECORD
// =============================================================================

// EvaluationRecord is the write-once audit row for one evaluation. It is
// superseded, not mutated, by later evaluations after cache expiry. Used for
// analytics; subsequent evaluations never read it back.
type EvaluationRecord struct {
	ID          string
	FlagID      string
	TenantID    string
	FlagKey     string
	ContextType ContextType
	ContextID   string

	Value             any
	Variant           string
	RolloutPercentage float64
	IsTargeted        bool

	// Snapshot of the context attributes at evaluation time.
	ContextData map[string]string

	EvaluatedAt time.Time
	ExpiresAt   time.Time
}
