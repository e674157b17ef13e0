package flagging_test

import (
	"testing"

	"github.com/warp/feature-engine/flagging"
)

func userCtx(id string, data map[string]string) flagging.EvaluationContext {
	return flagging.EvaluationContext{
		TenantID: "t1",
		FlagKey:  "f1",
		Type:     flagging.ContextUser,
		ID:       id,
		Data:     data,
	}
}

func TestTargeting_NilRules(t *testing.T) {
	match := flagging.EvaluateTargeting(nil, userCtx("u1", nil))
	if match.IsTargeted {
		t.Error("nil rules should never target")
	}
}

func TestTargeting_SubjectAllowList(t *testing.T) {
	// GIVEN: Rules with an explicit subject allow-list
	// WHEN: A listed user is evaluated
	// THEN: Targeted with the default "targeted" variant label

	rules := &flagging.TargetingRules{Subjects: []string{"u1", "u2"}}

	match := flagging.EvaluateTargeting(rules, userCtx("u1", nil))
	if !match.IsTargeted {
		t.Fatal("listed subject should be targeted")
	}
	if match.Variant != "targeted" {
		t.Errorf("expected variant %q, got %q", "targeted", match.Variant)
	}

	if flagging.EvaluateTargeting(rules, userCtx("u3", nil)).IsTargeted {
		t.Error("unlisted subject should not be targeted")
	}
}

func TestTargeting_SubjectListIgnoredForNonUserContexts(t *testing.T) {
	// GIVEN: An allow-list containing the context id
	// WHEN: The context is a device, not a user
	// THEN: The allow-list does not apply

	rules := &flagging.TargetingRules{Subjects: []string{"dev-1"}}
	ctx := flagging.EvaluationContext{
		TenantID: "t1", FlagKey: "f1",
		Type: flagging.ContextDevice, ID: "dev-1",
	}
	if flagging.EvaluateTargeting(rules, ctx).IsTargeted {
		t.Error("subject allow-list should only match user contexts")
	}
}

func TestTargeting_AttributeEquality(t *testing.T) {
	// GIVEN: Rules requiring plan=pro and region=eu
	// WHEN: Contexts with varying attributes are evaluated
	// THEN: Only a context carrying both exact values matches

	rules := &flagging.TargetingRules{
		Attributes: map[string]string{"plan": "pro", "region": "eu"},
	}

	match := flagging.EvaluateTargeting(rules, userCtx("u1", map[string]string{
		"plan": "pro", "region": "eu", "extra": "ignored",
	}))
	if !match.IsTargeted {
		t.Error("full attribute match should target")
	}

	partial := flagging.EvaluateTargeting(rules, userCtx("u1", map[string]string{"plan": "pro"}))
	if partial.IsTargeted {
		t.Error("missing attribute should not target")
	}

	wrong := flagging.EvaluateTargeting(rules, userCtx("u1", map[string]string{
		"plan": "free", "region": "eu",
	}))
	if wrong.IsTargeted {
		t.Error("mismatched attribute value should not target")
	}
}

func TestTargeting_EmptyAttributesDoNotMatchEverything(t *testing.T) {
	// An empty attribute map is "no attribute rule", not "match all".
	rules := &flagging.TargetingRules{Attributes: map[string]string{}}
	if flagging.EvaluateTargeting(rules, userCtx("u1", nil)).IsTargeted {
		t.Error("empty attribute rules should not target")
	}
}

func TestTargeting_PercentageGate(t *testing.T) {
	// GIVEN: Rules with only a percentage
	// THEN: Inclusion follows the deterministic bucket, labelled "percentage"

	rules := &flagging.TargetingRules{Percentage: 100}
	match := flagging.EvaluateTargeting(rules, userCtx("anyone", nil))
	if !match.IsTargeted {
		t.Fatal("100% targeting should include everyone")
	}
	if match.Variant != "percentage" {
		t.Errorf("expected variant %q, got %q", "percentage", match.Variant)
	}

	none := &flagging.TargetingRules{Percentage: 0}
	if flagging.EvaluateTargeting(none, userCtx("anyone", nil)).IsTargeted {
		t.Error("0% targeting should include nobody")
	}
}

func TestTargeting_ExplicitVariantOverridesLabels(t *testing.T) {
	// A rule naming a variant wins over the branch's default label.
	rules := &flagging.TargetingRules{
		Subjects: []string{"u1"},
		Variant:  "beta",
	}
	match := flagging.EvaluateTargeting(rules, userCtx("u1", nil))
	if match.Variant != "beta" {
		t.Errorf("expected variant %q, got %q", "beta", match.Variant)
	}
}

func TestTargeting_PrecedenceSubjectsBeforeAttributes(t *testing.T) {
	// A subject-list hit short-circuits before attribute checks, so failing
	// attributes don't matter for a listed subject.
	rules := &flagging.TargetingRules{
		Subjects:   []string{"u1"},
		Attributes: map[string]string{"plan": "enterprise"},
	}
	if !flagging.EvaluateTargeting(rules, userCtx("u1", nil)).IsTargeted {
		t.Error("listed subject should be targeted regardless of attributes")
	}
}
