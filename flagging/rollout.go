/*
rollout.go - Rollout strategy evaluation

PURPOSE:
  Computes the effective rollout percentage (and optional variant) for a
  flag's strategy. The result is a *policy* percentage; whether a specific
  subject is actually inside the rollout is decided by a second, per-subject
  bucket gate applied by the engine.

STRATEGIES:
  immediate:   everyone (100)
  percentage:  fixed fraction from config
  gradual:     linear ramp from 0 to max between two dates
  targeted:    targeting rules alone gate exposure (100 if matched, else 0)
  ab_test:     an injected experiment-assignment function picks the variant

TWO-STAGE GATE:
  Strategy percentage first, then bucket(contextID + flagKey) < percentage.
  Because the bucket is a pure function of the subject and salt, raising a
  percentage over time only adds subjects; nobody already included is ever
  reassigned.

SEE ALSO:
  - hash.go: The bucket function
  - engine.go: Applies the per-subject gate and resolves variant values
*/
package flagging

import "time"

// AssignmentFunc delegates variant selection to an experiment. It returns
// the assigned variant and true, or false when the subject receives no
// assignment (experiment missing, not running, subject not eligible).
type AssignmentFunc func(ctx EvaluationContext, experimentID string) (variant string, ok bool)

// RolloutDecision is the strategy's answer before the per-subject gate.
type RolloutDecision struct {
	Percentage float64
	Variant    string
}

// RolloutEvaluator computes rollout decisions. Assign is optional; without
// it the ab_test strategy exposes nobody.
type RolloutEvaluator struct {
	Assign AssignmentFunc
}

// Evaluate computes the effective rollout percentage and optional variant
// for the flag's strategy at time now.
func (re *RolloutEvaluator) Evaluate(flag *FeatureFlag, ctx EvaluationContext, now time.Time) RolloutDecision {
	switch flag.Strategy {
	case StrategyImmediate:
		return RolloutDecision{Percentage: 100}

	case StrategyPercentage:
		return RolloutDecision{Percentage: clampPercent(flag.Rollout.Percentage)}

	case StrategyGradual:
		return RolloutDecision{Percentage: gradualPercentage(flag.Rollout, now)}

	case StrategyTargeted:
		if match := EvaluateTargeting(flag.Targeting, ctx); match.IsTargeted {
			return RolloutDecision{Percentage: 100, Variant: match.Variant}
		}
		return RolloutDecision{}

	case StrategyABTest:
		if re.Assign == nil || flag.Rollout.ExperimentID == "" {
			return RolloutDecision{}
		}
		if variant, ok := re.Assign(ctx, flag.Rollout.ExperimentID); ok {
			return RolloutDecision{Percentage: 100, Variant: variant}
		}
		return RolloutDecision{}

	default:
		return RolloutDecision{}
	}
}

// gradualPercentage ramps linearly from 0 at Start to MaxPercentage at End.
// Before the window it is 0, after it the full max, and the result is always
// clamped into [0, MaxPercentage].
func gradualPercentage(cfg RolloutConfig, now time.Time) float64 {
	max := clampPercent(cfg.MaxPercentage)
	if cfg.StartDate == nil || cfg.EndDate == nil || !cfg.EndDate.After(*cfg.StartDate) {
		return 0
	}
	if now.Before(*cfg.StartDate) {
		return 0
	}
	if !now.Before(*cfg.EndDate) {
		return max
	}
	elapsed := now.Sub(*cfg.StartDate).Seconds()
	total := cfg.EndDate.Sub(*cfg.StartDate).Seconds()
	pct := max * (elapsed / total)
	if pct < 0 {
		return 0
	}
	if pct > max {
		return max
	}
	return pct
}

func clampPercent(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
