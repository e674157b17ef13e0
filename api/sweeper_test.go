package api_test

import (
	"context"
	"testing"
	"time"

	"github.com/warp/feature-engine/api"
	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/store/memory"
)

func TestSweeper_CompletesOverdueExperiments(t *testing.T) {
	// GIVEN: A running experiment whose planned end date has passed
	// WHEN: The sweeper runs
	// THEN: The experiment is completed with frozen results

	store := memory.New()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	clock := now
	manager := experiments.NewManager(store, store,
		experiments.WithClock(func() time.Time { return clock }))
	ctx := context.Background()

	exp := &experiments.Experiment{
		TenantID:            "t1",
		Name:                "overdue",
		VariantOrder:        []string{"control", "treatment"},
		Variants:            map[string]any{"control": 1, "treatment": 2},
		MaximumDurationDays: 7,
	}
	if err := manager.Create(ctx, exp); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := manager.Start(ctx, exp.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	sweeper := api.NewSweeper(manager, nil)

	// Inside the window nothing happens.
	sweeper.RunNow()
	got, _ := manager.Get(ctx, exp.ID)
	if got.Status != experiments.StatusRunning {
		t.Fatalf("status = %q, experiment should still be running", got.Status)
	}

	clock = now.AddDate(0, 0, 8)
	sweeper.RunNow()
	got, _ = manager.Get(ctx, exp.ID)
	if got.Status != experiments.StatusCompleted {
		t.Errorf("status = %q, want completed after planned end", got.Status)
	}
	if got.Results == nil {
		t.Error("sweep completion should freeze results")
	}
}

func TestSweeper_DisabledDoesNotStart(t *testing.T) {
	store := memory.New()
	manager := experiments.NewManager(store, store)

	sweeper := api.NewSweeper(manager, nil)
	sweeper.Enabled = false
	sweeper.Start()
	// Stop must be safe even though no goroutine was launched.
	sweeper.Stop()
}

func TestSweeper_StartStop(t *testing.T) {
	store := memory.New()
	manager := experiments.NewManager(store, store)

	sweeper := api.NewSweeper(manager, nil)
	sweeper.CheckInterval = 10 * time.Millisecond
	sweeper.Start()
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
}
