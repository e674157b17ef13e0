package flagging

// =============================================================================
// TARGETING RULE EVALUATOR
// =============================================================================

// Default variant labels per matched branch, used when the rule itself does
// not name a variant.
const (
	variantTargeted   = "targeted"
	variantPercentage = "percentage"
)

// TargetingMatch is the outcome of matching a context against a rule set.
type TargetingMatch struct {
	IsTargeted bool
	Variant    string
}

// EvaluateTargeting matches an evaluation context against targeting rules.
// Checks run in fixed precedence order, short-circuiting on first match:
//
//  1. Explicit subject allow-list (user contexts only)
//  2. Attribute equality: every rule attribute must equal the context's
//     attribute (a missing context key is no match)
//  3. Percentage gate: bucket(contextID + flagKey) < rules.Percentage
//
// No match across all three means IsTargeted=false.
func EvaluateTargeting(rules *TargetingRules, ctx EvaluationContext) TargetingMatch {
	if rules == nil {
		return TargetingMatch{}
	}

	if ctx.Type == ContextUser && containsSubject(rules.Subjects, ctx.ID) {
		return TargetingMatch{IsTargeted: true, Variant: ruleVariant(rules, variantTargeted)}
	}

	if len(rules.Attributes) > 0 && attributesMatch(rules.Attributes, ctx.Data) {
		return TargetingMatch{IsTargeted: true, Variant: ruleVariant(rules, variantTargeted)}
	}

	if rules.Percentage > 0 && InBucketRange(ctx.ID, ctx.FlagKey, rules.Percentage) {
		return TargetingMatch{IsTargeted: true, Variant: ruleVariant(rules, variantPercentage)}
	}

	return TargetingMatch{}
}

// AttributesMatch reports whether every wanted key/value pair is present in
// got. Exported for the experiments package, which reuses the same matcher
// for assignment eligibility.
func AttributesMatch(want, got map[string]string) bool {
	return attributesMatch(want, got)
}

func attributesMatch(want, got map[string]string) bool {
	for k, v := range want {
		actual, ok := got[k]
		if !ok || actual != v {
			return false
		}
	}
	return true
}

func containsSubject(subjects []string, id string) bool {
	for _, s := range subjects {
		if s == id {
			return true
		}
	}
	return false
}

func ruleVariant(rules *TargetingRules, fallback string) string {
	if rules.Variant != "" {
		return rules.Variant
	}
	return fallback
}
