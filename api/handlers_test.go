package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/warp/feature-engine/api"
	"github.com/warp/feature-engine/experiments"
	"github.com/warp/feature-engine/flagging"
	"github.com/warp/feature-engine/store/memory"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := memory.New()
	cache := flagging.NewMemoryCache(time.Hour)
	engine := flagging.NewEngine(store, store, cache, nil)
	manager := experiments.NewManager(store, store)
	handler := api.NewHandler(engine, manager, nil)

	srv := httptest.NewServer(api.NewRouter(handler))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func flagBody(key string) map[string]any {
	return map[string]any{
		"tenant_id":     "t1",
		"key":           key,
		"name":          "Test flag",
		"value_type":    "boolean",
		"status":        "active",
		"strategy":      "percentage",
		"default_value": true,
		"rollout":       map[string]any{"percentage": 100},
	}
}

func TestFlagLifecycleOverHTTP(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: A flag is created, fetched, updated, and deactivated
	// THEN: Each step round-trips with the right status codes

	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/flags", flagBody("dark-mode"))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		Key    string `json:"key"`
		Status string `json:"status"`
	}
	decode(t, resp, &created)
	if created.Key != "dark-mode" || created.Status != "active" {
		t.Errorf("created flag = %+v", created)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/flags/dark-mode?tenant_id=t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	update := flagBody("dark-mode")
	update["name"] = "Renamed"
	resp = doJSON(t, http.MethodPut, srv.URL+"/api/flags/dark-mode", update)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	var updated struct {
		Name string `json:"name"`
	}
	decode(t, resp, &updated)
	if updated.Name != "Renamed" {
		t.Errorf("update did not apply: %+v", updated)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/flags/dark-mode/deactivate?tenant_id=t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status = %d, want 200", resp.StatusCode)
	}
	var deactivated struct {
		Status string `json:"status"`
	}
	decode(t, resp, &deactivated)
	if deactivated.Status != "inactive" {
		t.Errorf("status = %q, want inactive", deactivated.Status)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/flags?tenant_id=t1", nil)
	var list []json.RawMessage
	decode(t, resp, &list)
	if len(list) != 1 {
		t.Errorf("list returned %d flags, want 1", len(list))
	}
}

func TestListFlags_RequiresTenant(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/flags", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without tenant_id", resp.StatusCode)
	}
}

func TestGetFlag_Missing(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodGet, srv.URL+"/api/flags/nope?tenant_id=t1", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCreateFlag_Invalid(t *testing.T) {
	srv := newTestServer(t)
	body := flagBody("bad")
	body["strategy"] = "percentage"
	body["rollout"] = map[string]any{"percentage": 150}
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/flags", body)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for an out-of-range percentage", resp.StatusCode)
	}
}

func TestEvaluateOverHTTP(t *testing.T) {
	// GIVEN: An active 100% flag
	// WHEN: Evaluated over HTTP
	// THEN: 200 with the flag's value; a missing flag still answers 200
	//       with the fallback

	srv := newTestServer(t)
	doJSON(t, http.MethodPost, srv.URL+"/api/flags", flagBody("dark-mode")).Body.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/evaluate", map[string]any{
		"tenant_id":  "t1",
		"flag_key":   "dark-mode",
		"context_id": "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("evaluate status = %d, want 200", resp.StatusCode)
	}
	var result struct {
		FlagKey string `json:"flag_key"`
		Value   any    `json:"value"`
	}
	decode(t, resp, &result)
	if result.FlagKey != "dark-mode" || result.Value != true {
		t.Errorf("result = %+v, want value true", result)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/evaluate", map[string]any{
		"tenant_id":  "t1",
		"flag_key":   "missing",
		"context_id": "u1",
		"fallback":   "safe",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("missing flag status = %d, evaluation must degrade not fail", resp.StatusCode)
	}
	decode(t, resp, &result)
	if result.Value != "safe" {
		t.Errorf("fallback value = %v, want safe", result.Value)
	}
}

func TestEvaluate_MissingFields(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/evaluate", map[string]any{
		"tenant_id": "t1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without flag_key/context_id", resp.StatusCode)
	}
}

func TestEvaluateBatchOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, http.MethodPost, srv.URL+"/api/flags", flagBody("one")).Body.Close()
	doJSON(t, http.MethodPost, srv.URL+"/api/flags", flagBody("two")).Body.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/evaluate/batch", map[string]any{
		"tenant_id": "t1",
		"requests": []map[string]any{
			{"flag_key": "one", "context_id": "u1"},
			{"flag_key": "two", "context_id": "u1"},
		},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("batch status = %d, want 200", resp.StatusCode)
	}
	var results map[string]struct {
		Value any `json:"value"`
	}
	decode(t, resp, &results)
	if len(results) != 2 || results["one"].Value != true || results["two"].Value != true {
		t.Errorf("batch results = %+v", results)
	}
}

func experimentBody() map[string]any {
	return map[string]any{
		"tenant_id":     "t1",
		"name":          "checkout copy",
		"variant_order": []string{"control", "treatment"},
		"variants": map[string]any{
			"control":   "Buy now",
			"treatment": "Complete purchase",
		},
		"traffic_allocation": map[string]float64{
			"control":   50,
			"treatment": 50,
		},
	}
}

func createExperiment(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments", experimentBody())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create experiment status = %d, want 201", resp.StatusCode)
	}
	var created struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	decode(t, resp, &created)
	if created.ID == "" || created.Status != "draft" {
		t.Fatalf("created experiment = %+v", created)
	}
	return created.ID
}

func TestExperimentLifecycleOverHTTP(t *testing.T) {
	// Walk draft -> running -> paused -> running -> completed over the API.
	srv := newTestServer(t)
	id := createExperiment(t, srv)

	for _, step := range []struct {
		action string
		want   string
	}{
		{"start", "running"},
		{"pause", "paused"},
		{"resume", "running"},
		{"stop", "completed"},
	} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/"+step.action, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", step.action, resp.StatusCode)
		}
		var exp struct {
			Status string `json:"status"`
		}
		decode(t, resp, &exp)
		if exp.Status != step.want {
			t.Fatalf("after %s status = %q, want %q", step.action, exp.Status, step.want)
		}
	}

	// Terminal experiments reject further transitions as client errors.
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/start", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("restart status = %d, want 400", resp.StatusCode)
	}
}

func TestExperiment_Missing(t *testing.T) {
	srv := newTestServer(t)
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/nope/start", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAssignAndConvertOverHTTP(t *testing.T) {
	// GIVEN: A running experiment
	// WHEN: A subject is assigned and later converts
	// THEN: Assignment returns the variant with its value, conversion is
	//       recorded, and results reflect it

	srv := newTestServer(t)
	id := createExperiment(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/start", nil).Body.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/assign", map[string]any{
		"subject_id": "u1",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d, want 200", resp.StatusCode)
	}
	var p struct {
		Variant string `json:"variant"`
		Status  string `json:"status"`
		Value   any    `json:"value"`
	}
	decode(t, resp, &p)
	if p.Variant != "control" && p.Variant != "treatment" {
		t.Fatalf("variant = %q", p.Variant)
	}
	if p.Status != "active" || p.Value == nil {
		t.Errorf("participant = %+v, want active with a resolved value", p)
	}

	// Idempotent: the same subject gets the same variant back.
	resp = doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/assign", map[string]any{
		"subject_id": "u1",
	})
	var again struct {
		Variant string `json:"variant"`
	}
	decode(t, resp, &again)
	if again.Variant != p.Variant {
		t.Errorf("re-assign variant = %q, want %q", again.Variant, p.Variant)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/convert", map[string]any{
		"subject_id": "u1",
		"event_data": map[string]any{"order_total": 42.5},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("convert status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/experiments/"+id+"/results", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d, want 200", resp.StatusCode)
	}
	var results struct {
		TotalParticipants int `json:"total_participants"`
		Variants          []struct {
			Variant     string `json:"variant"`
			Conversions int    `json:"conversions"`
		} `json:"variants"`
	}
	decode(t, resp, &results)
	if results.TotalParticipants != 1 {
		t.Errorf("total participants = %d, want 1", results.TotalParticipants)
	}
	converted := 0
	for _, vr := range results.Variants {
		converted += vr.Conversions
	}
	if converted != 1 {
		t.Errorf("conversions = %d, want 1", converted)
	}

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/experiments/"+id+"/participants", nil)
	var stats struct {
		Total     int `json:"total"`
		Converted int `json:"converted"`
	}
	decode(t, resp, &stats)
	if stats.Total != 1 || stats.Converted != 1 {
		t.Errorf("participant stats = %+v", stats)
	}
}

func TestAssign_DraftExperimentIsClientError(t *testing.T) {
	srv := newTestServer(t)
	id := createExperiment(t, srv)

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/assign", map[string]any{
		"subject_id": "u1",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a draft experiment", resp.StatusCode)
	}
}

func TestConvert_BadTimestamp(t *testing.T) {
	srv := newTestServer(t)
	id := createExperiment(t, srv)
	doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/start", nil).Body.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/experiments/"+id+"/convert", map[string]any{
		"subject_id":  "u1",
		"occurred_at": "yesterday",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for a malformed timestamp", resp.StatusCode)
	}
}

func TestCacheClearOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	doJSON(t, http.MethodPost, srv.URL+"/api/flags", flagBody("dark-mode")).Body.Close()
	doJSON(t, http.MethodPost, srv.URL+"/api/evaluate", map[string]any{
		"tenant_id":  "t1",
		"flag_key":   "dark-mode",
		"context_id": "u1",
	}).Body.Close()

	resp := doJSON(t, http.MethodPost, srv.URL+"/api/cache/clear/t1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("tenant clear status = %d, want 200", resp.StatusCode)
	}
	var cleared struct {
		Status   string `json:"status"`
		TenantID string `json:"tenant_id"`
	}
	decode(t, resp, &cleared)
	if cleared.Status != "cleared" || cleared.TenantID != "t1" {
		t.Errorf("tenant clear response = %+v", cleared)
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/cache/clear", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("clear-all status = %d, want 200", resp.StatusCode)
	}
}

func TestScenariosOverHTTP(t *testing.T) {
	// Scenario loaders seed demo data and report as current afterwards.
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/scenarios", nil)
	var list []struct {
		ID string `json:"id"`
	}
	decode(t, resp, &list)
	if len(list) == 0 {
		t.Fatal("no scenarios listed")
	}

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/scenarios/load", map[string]any{
		"scenario_id": list[0].ID,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("load status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/scenarios/current", nil)
	var current struct {
		ID string `json:"id"`
	}
	decode(t, resp, &current)
	if current.ID != list[0].ID {
		t.Errorf("current scenario = %q, want %q", current.ID, list[0].ID)
	}

	// Demo data is queryable through the ordinary endpoints.
	resp = doJSON(t, http.MethodGet, srv.URL+"/api/flags?tenant_id=demo", nil)
	var flags []json.RawMessage
	decode(t, resp, &flags)
	if len(flags) == 0 {
		t.Error("scenario should have seeded demo flags")
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	for i := 0; i < 3; i++ {
		doJSON(t, http.MethodPost, srv.URL+"/api/evaluate", map[string]any{
			"tenant_id":  "t1",
			"flag_key":   fmt.Sprintf("f-%d", i),
			"context_id": "u1",
		}).Body.Close()
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}
