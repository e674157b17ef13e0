/*
Package factory provides JSON to Go definition conversion.

PURPOSE:
  Converts JSON flag and experiment definitions into flagging.FeatureFlag
  and experiments.Experiment objects. This enables configuration without
  code changes - product teams can define flags in JSON, and the factory
  creates the proper Go structs.

WHY JSON?
  - Non-developers can define flags and experiments
  - Easy integration with admin UI
  - Version control for flag definitions
  - Database storage of definition configs

FLAG JSON SCHEMA:
  {
    "key": "dark-mode",
    "tenant_id": "clinic-7",
    "name": "Dark mode",
    "value_type": "boolean",
    "strategy": "gradual",
    "default_value": false,
    "rollout": {
      "start_date": "2026-01-01",
      "end_date": "2026-02-01",
      "max_percentage": 100
    },
    "targeting": {
      "subjects": ["u-qa-1"],
      "variant": "beta"
    },
    "variants": {"beta": true}
  }

EXPERIMENT JSON SCHEMA:
  {
    "tenant_id": "clinic-7",
    "name": "Checkout copy test",
    "flag_key": "checkout-copy",
    "variant_order": ["control", "treatment"],
    "variants": {"control": "Buy now", "treatment": "Complete purchase"},
    "traffic_allocation": {"control": 50, "treatment": 50},
    "auto_stop_on_significance": true
  }

KEY FEATURES:
  - Validates JSON structure
  - Sets sensible defaults (draft status, boolean value type)
  - Accepts dates as "2006-01-02" or RFC 3339
  - Round-trips definitions back to JSON for export

USAGE:
  factory := NewDefinitionFactory()
  flag, err := factory.ParseFlag(jsonString)
  exp, err := factory.ParseExperiment(jsonString)

SEE ALSO:
  - flagging/types.go: FeatureFlag type definition
  - experiments/types.go: Experiment type definition
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// FlagJSON is the JSON representation of a feature flag.
type FlagJSON struct {
	ID           string          `json:"id,omitempty"`
	TenantID     string          `json:"tenant_id"`
	Key          string          `json:"key"`
	Name         string          `json:"name,omitempty"`
	ValueType    string          `json:"value_type,omitempty"` // boolean, string, number, json
	Status       string          `json:"status,omitempty"`
	Strategy     string          `json:"strategy,omitempty"` // immediate, percentage, gradual, targeted, ab_test
	DefaultValue any             `json:"default_value,omitempty"`
	Rollout      *RolloutJSON    `json:"rollout,omitempty"`
	Targeting    *TargetingJSON  `json:"targeting,omitempty"`
	Variants     map[string]any  `json:"variants,omitempty"`
	StartDate    string          `json:"start_date,omitempty"`
	EndDate      string          `json:"end_date,omitempty"`
}

// RolloutJSON represents strategy-specific rollout parameters.
type RolloutJSON struct {
	Percentage    float64 `json:"percentage,omitempty"`
	StartDate     string  `json:"start_date,omitempty"`
	EndDate       string  `json:"end_date,omitempty"`
	MaxPercentage float64 `json:"max_percentage,omitempty"`
	ExperimentID  string  `json:"experiment_id,omitempty"`
}

// TargetingJSON represents targeting rules.
type TargetingJSON struct {
	Subjects   []string          `json:"subjects,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Percentage float64           `json:"percentage,omitempty"`
	Variant    string            `json:"variant,omitempty"`
}

// ExperimentJSON is the JSON representation of an experiment.
type ExperimentJSON struct {
	ID          string `json:"id,omitempty"`
	TenantID    string `json:"tenant_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	FlagKey     string `json:"flag_key,omitempty"`

	VariantOrder      []string           `json:"variant_order"`
	Variants          map[string]any     `json:"variants"`
	TrafficAllocation map[string]float64 `json:"traffic_allocation,omitempty"`
	Targeting         *TargetingJSON     `json:"targeting,omitempty"`

	SignificanceLevel   float64 `json:"significance_level,omitempty"`
	MinimumSampleSize   int     `json:"minimum_sample_size,omitempty"`
	MaximumDurationDays int     `json:"maximum_duration_days,omitempty"`

	AutoStopOnSignificance bool `json:"auto_stop_on_significance,omitempty"`
	AutoApplyWinner        bool `json:"auto_apply_winner,omitempty"`
}

// =============================================================================
// DEFINITION FACTORY
// =============================================================================

// DefinitionFactory converts JSON definitions to Go structs.
type DefinitionFactory struct{}

// NewDefinitionFactory creates a new definition factory.
func NewDefinitionFactory() *DefinitionFactory {
	return &DefinitionFactory{}
}

// ParseFlag parses a JSON string into a FeatureFlag.
func (f *DefinitionFactory) ParseFlag(jsonStr string) (*flagging.FeatureFlag, error) {
	var fj FlagJSON
	if err := json.Unmarshal([]byte(jsonStr), &fj); err != nil {
		return nil, fmt.Errorf("failed to parse flag JSON: %w", err)
	}
	return f.FlagFromJSON(fj)
}

// FlagFromJSON converts FlagJSON to a FeatureFlag.
func (f *DefinitionFactory) FlagFromJSON(fj FlagJSON) (*flagging.FeatureFlag, error) {
	flag := &flagging.FeatureFlag{
		ID:           fj.ID,
		TenantID:     fj.TenantID,
		Key:          fj.Key,
		Name:         fj.Name,
		ValueType:    parseValueType(fj.ValueType),
		Status:       parseFlagStatus(fj.Status),
		Strategy:     parseStrategy(fj.Strategy),
		DefaultValue: fj.DefaultValue,
		Variants:     fj.Variants,
	}

	// A missing default falls back to the type's zero value so evaluation
	// always has something concrete to hand back.
	if flag.DefaultValue == nil {
		flag.DefaultValue = flagging.TypeDefault(flag.ValueType)
	}

	if fj.Rollout != nil {
		rollout, err := parseRollout(*fj.Rollout)
		if err != nil {
			return nil, err
		}
		flag.Rollout = rollout
	}
	if fj.Targeting != nil {
		flag.Targeting = parseTargeting(*fj.Targeting)
	}

	var err error
	if flag.StartDate, err = parseDate(fj.StartDate, "start_date"); err != nil {
		return nil, err
	}
	if flag.EndDate, err = parseDate(fj.EndDate, "end_date"); err != nil {
		return nil, err
	}
	return flag, nil
}

// FlagToJSON converts a FeatureFlag back to FlagJSON.
func (f *DefinitionFactory) FlagToJSON(flag *flagging.FeatureFlag) FlagJSON {
	fj := FlagJSON{
		ID:           flag.ID,
		TenantID:     flag.TenantID,
		Key:          flag.Key,
		Name:         flag.Name,
		ValueType:    string(flag.ValueType),
		Status:       string(flag.Status),
		Strategy:     string(flag.Strategy),
		DefaultValue: flag.DefaultValue,
		Variants:     flag.Variants,
		StartDate:    formatDate(flag.StartDate),
		EndDate:      formatDate(flag.EndDate),
	}

	if flag.Rollout != (flagging.RolloutConfig{}) {
		fj.Rollout = &RolloutJSON{
			Percentage:    flag.Rollout.Percentage,
			StartDate:     formatDate(flag.Rollout.StartDate),
			EndDate:       formatDate(flag.Rollout.EndDate),
			MaxPercentage: flag.Rollout.MaxPercentage,
			ExperimentID:  flag.Rollout.ExperimentID,
		}
	}
	if flag.Targeting != nil {
		fj.Targeting = &TargetingJSON{
			Subjects:   flag.Targeting.Subjects,
			Attributes: flag.Targeting.Attributes,
			Percentage: flag.Targeting.Percentage,
			Variant:    flag.Targeting.Variant,
		}
	}
	return fj
}

// ParseExperiment parses a JSON string into an Experiment.
func (f *DefinitionFactory) ParseExperiment(jsonStr string) (*experiments.Experiment, error) {
	var ej ExperimentJSON
	if err := json.Unmarshal([]byte(jsonStr), &ej); err != nil {
		return nil, fmt.Errorf("failed to parse experiment JSON: %w", err)
	}
	return f.ExperimentFromJSON(ej)
}

// ExperimentFromJSON converts ExperimentJSON to an Experiment. Structural
// validation (control variant, allocation sum) happens in the experiment
// manager at creation time, not here.
func (f *DefinitionFactory) ExperimentFromJSON(ej ExperimentJSON) (*experiments.Experiment, error) {
	if len(ej.VariantOrder) == 0 && len(ej.Variants) > 0 {
		return nil, fmt.Errorf("experiment %q: variant_order is required when variants are set", ej.Name)
	}

	exp := &experiments.Experiment{
		ID:          ej.ID,
		TenantID:    ej.TenantID,
		Name:        ej.Name,
		Description: ej.Description,
		FlagKey:     ej.FlagKey,

		VariantOrder:      ej.VariantOrder,
		Variants:          ej.Variants,
		TrafficAllocation: ej.TrafficAllocation,

		SignificanceLevel:   ej.SignificanceLevel,
		MinimumSampleSize:   ej.MinimumSampleSize,
		MaximumDurationDays: ej.MaximumDurationDays,

		AutoStopOnSignificance: ej.AutoStopOnSignificance,
		AutoApplyWinner:        ej.AutoApplyWinner,
	}
	if ej.Targeting != nil {
		exp.Targeting = parseTargeting(*ej.Targeting)
	}
	return exp, nil
}

// ExperimentToJSON converts an Experiment back to ExperimentJSON.
func (f *DefinitionFactory) ExperimentToJSON(exp *experiments.Experiment) ExperimentJSON {
	ej := ExperimentJSON{
		ID:          exp.ID,
		TenantID:    exp.TenantID,
		Name:        exp.Name,
		Description: exp.Description,
		FlagKey:     exp.FlagKey,

		VariantOrder:      exp.VariantOrder,
		Variants:          exp.Variants,
		TrafficAllocation: exp.TrafficAllocation,

		SignificanceLevel:   exp.SignificanceLevel,
		MinimumSampleSize:   exp.MinimumSampleSize,
		MaximumDurationDays: exp.MaximumDurationDays,

		AutoStopOnSignificance: exp.AutoStopOnSignificance,
		AutoApplyWinner:        exp.AutoApplyWinner,
	}
	if exp.Targeting != nil {
		ej.Targeting = &TargetingJSON{
			Subjects:   exp.Targeting.Subjects,
			Attributes: exp.Targeting.Attributes,
			Percentage: exp.Targeting.Percentage,
			Variant:    exp.Targeting.Variant,
		}
	}
	return ej
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseValueType(s string) flagging.ValueType {
	switch s {
	case "string":
		return flagging.ValueString
	case "number":
		return flagging.ValueNumber
	case "json":
		return flagging.ValueJSON
	default:
		return flagging.ValueBoolean
	}
}

func parseFlagStatus(s string) flagging.FlagStatus {
	switch s {
	case "active":
		return flagging.FlagActive
	case "inactive":
		return flagging.FlagInactive
	case "archived":
		return flagging.FlagArchived
	default:
		return flagging.FlagDraft
	}
}

func parseStrategy(s string) flagging.RolloutStrategy {
	switch s {
	case "percentage":
		return flagging.StrategyPercentage
	case "gradual":
		return flagging.StrategyGradual
	case "targeted":
		return flagging.StrategyTargeted
	case "ab_test":
		return flagging.StrategyABTest
	default:
		return flagging.StrategyImmediate
	}
}

func parseRollout(rj RolloutJSON) (flagging.RolloutConfig, error) {
	cfg := flagging.RolloutConfig{
		Percentage:    rj.Percentage,
		MaxPercentage: rj.MaxPercentage,
		ExperimentID:  rj.ExperimentID,
	}
	var err error
	if cfg.StartDate, err = parseDate(rj.StartDate, "rollout.start_date"); err != nil {
		return cfg, err
	}
	if cfg.EndDate, err = parseDate(rj.EndDate, "rollout.end_date"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseTargeting(tj TargetingJSON) *flagging.TargetingRules {
	return &flagging.TargetingRules{
		Subjects:   tj.Subjects,
		Attributes: tj.Attributes,
		Percentage: tj.Percentage,
		Variant:    tj.Variant,
	}
}

// parseDate accepts "2006-01-02" or RFC 3339. Empty means unset.
func parseDate(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s format: %w", field, err)
	}
	return &t, nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
