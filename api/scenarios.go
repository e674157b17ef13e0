/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the engine with realistic
	data for testing and demos. Each scenario creates flags, experiments,
	and assignments that demonstrate specific features.

AVAILABLE SCENARIOS:

	gradual-rollout:  Dark-mode flag ramping 0 -> 100% over two weeks
	beta-cohort:      Targeted flag with a subject allow-list on a 0% rollout
	checkout-ab:      Running A/B test with assigned and converted subjects

HOW SCENARIOS WORK:
 1. Create flag/experiment definitions via the engine and manager
 2. Activate flags and start experiments
 3. Optionally assign participants and record conversions
 4. Evaluation cache is cleared so the demo data takes effect immediately

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "checkout-ab"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx, tenant)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios write into the live store. Only use in development/demo
	environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - factory/definition.go: Flag and experiment JSON definitions
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
)

// demoTenant is the tenant every scenario seeds into.
const demoTenant = "demo"

// ScenarioDTO describes one loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "gradual-rollout",
		Name:        "Gradual Rollout",
		Description: "Dark-mode flag ramping linearly from 0 to 100% over two weeks",
		Category:    "flags",
	},
	{
		ID:          "beta-cohort",
		Name:        "Beta Cohort",
		Description: "Targeted flag: allow-listed beta users on an otherwise 0% rollout",
		Category:    "flags",
	},
	{
		ID:          "checkout-ab",
		Name:        "Checkout A/B Test",
		Description: "Running experiment with a 50/50 split, assignments and conversions",
		Category:    "experiments",
	},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	var err error
	switch req.ScenarioID {
	case "gradual-rollout":
		err = h.loadGradualRolloutScenario(ctx)
	case "beta-cohort":
		err = h.loadBetaCohortScenario(ctx)
	case "checkout-ab":
		err = h.loadCheckoutABScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	// Drop any cached decisions from a previously loaded scenario.
	h.Engine.ClearCacheForTenant(ctx, demoTenant)
	h.currentScenario = req.ScenarioID

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
		"tenant_id":   demoTenant,
	})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadGradualRolloutScenario(ctx context.Context) error {
	start := time.Now().AddDate(0, 0, -3)
	end := start.AddDate(0, 0, 14)

	flag := &flagging.FeatureFlag{
		TenantID:     demoTenant,
		Key:          "dark-mode",
		Name:         "Dark mode",
		ValueType:    flagging.ValueBoolean,
		Strategy:     flagging.StrategyGradual,
		DefaultValue: false,
		Rollout: flagging.RolloutConfig{
			StartDate:     &start,
			EndDate:       &end,
			MaxPercentage: 100,
		},
		Variants: map[string]any{"percentage": true},
	}
	if err := h.Engine.CreateFlag(ctx, flag); err != nil {
		return err
	}
	return h.Engine.ActivateFlag(ctx, demoTenant, flag.Key)
}

func (h *Handler) loadBetaCohortScenario(ctx context.Context) error {
	flag := &flagging.FeatureFlag{
		TenantID:     demoTenant,
		Key:          "new-editor",
		Name:         "New editor",
		ValueType:    flagging.ValueString,
		Strategy:     flagging.StrategyTargeted,
		DefaultValue: "classic",
		Targeting: &flagging.TargetingRules{
			Subjects: []string{"u-beta-1", "u-beta-2", "u-beta-3"},
			Variant:  "beta",
		},
		Variants: map[string]any{"beta": "editor-v2"},
	}
	if err := h.Engine.CreateFlag(ctx, flag); err != nil {
		return err
	}
	return h.Engine.ActivateFlag(ctx, demoTenant, flag.Key)
}

func (h *Handler) loadCheckoutABScenario(ctx context.Context) error {
	exp := &experiments.Experiment{
		TenantID:    demoTenant,
		Name:        "Checkout copy test",
		Description: "Button copy: Buy now vs Complete purchase",
		FlagKey:     "checkout-copy",
		VariantOrder: []string{
			"control", "treatment",
		},
		Variants: map[string]any{
			"control":   "Buy now",
			"treatment": "Complete purchase",
		},
		TrafficAllocation: map[string]float64{
			"control":   50,
			"treatment": 50,
		},
		AutoStopOnSignificance: true,
	}
	if err := h.Manager.Create(ctx, exp); err != nil {
		return err
	}
	if _, err := h.Manager.Start(ctx, exp.ID); err != nil {
		return err
	}

	// A delegating flag that resolves through the experiment's assignment.
	flag := &flagging.FeatureFlag{
		TenantID:     demoTenant,
		Key:          "checkout-copy",
		Name:         "Checkout button copy",
		ValueType:    flagging.ValueString,
		Strategy:     flagging.StrategyABTest,
		DefaultValue: "Buy now",
		Rollout:      flagging.RolloutConfig{Percentage: 100, ExperimentID: exp.ID},
		Variants: map[string]any{
			"control":   "Buy now",
			"treatment": "Complete purchase",
		},
	}
	if err := h.Engine.CreateFlag(ctx, flag); err != nil {
		return err
	}
	if err := h.Engine.ActivateFlag(ctx, demoTenant, flag.Key); err != nil {
		return err
	}

	// Seed a handful of participants, a few of them converted.
	for i := 0; i < 20; i++ {
		subjectID := fmt.Sprintf("u-shopper-%02d", i)
		if _, err := h.Manager.AssignParticipant(ctx, exp.ID, subjectID, nil); err != nil {
			return err
		}
		if i%4 == 0 {
			err := h.Manager.TrackConversion(ctx, exp.ID, subjectID,
				map[string]any{"order_total": 42.50}, time.Time{})
			if err != nil {
				return err
			}
		}
	}
	return nil
}
