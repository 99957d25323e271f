package mangle

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"browsernerd-actions/internal/config"
)

func newTestEngine(t *testing.T, limit int) *Engine {
	t.Helper()
	engine, err := NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: limit}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func lifecycle(id string, healed, ok bool, errKind string) []Fact {
	now := time.Now()
	facts := []Fact{
		{Predicate: "action_started", Args: []interface{}{id, "click", "s1"}, Timestamp: now},
		{Predicate: "action_precheck", Args: []interface{}{id, true, !healed, ""}, Timestamp: now},
	}
	if healed {
		facts = append(facts, Fact{Predicate: "action_healed", Args: []interface{}{id, true, "selector", 0.82}, Timestamp: now})
	}
	return append(facts, Fact{Predicate: "action_finished", Args: []interface{}{id, "click", ok, errKind, int64(40)}, Timestamp: now})
}

func TestEngineBuiltinSchema(t *testing.T) {
	engine := newTestEngine(t, 100)
	if !engine.Ready() {
		t.Fatal("engine not ready after builtin schema load")
	}
}

func TestEngineDerivesActionViews(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	var facts []Fact
	facts = append(facts, lifecycle("a1", false, true, "")...)
	facts = append(facts, lifecycle("a2", true, true, "")...)
	facts = append(facts, lifecycle("a3", false, false, "stale_target")...)
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	healed, err := engine.Query(ctx, "healed_action(A).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(healed) != 1 || healed[0]["A"] != "a2" {
		t.Errorf("expected healed_action(a2), got %v", healed)
	}

	recovered, err := engine.Query(ctx, "recovered_action(A).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(recovered) != 1 || recovered[0]["A"] != "a2" {
		t.Errorf("expected recovered_action(a2), got %v", recovered)
	}

	failed, err := engine.Query(ctx, "failed_action(A, K).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(failed) != 1 || failed[0]["A"] != "a3" || failed[0]["K"] != "stale_target" {
		t.Errorf("expected failed_action(a3, stale_target), got %v", failed)
	}

	sessions, err := engine.Evaluate(ctx, "session_with_failure")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].Args[0] != "s1" {
		t.Errorf("expected session_with_failure(s1), got %v", sessions)
	}
}

func TestEngineQueryWithConstant(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	var facts []Fact
	facts = append(facts, lifecycle("a1", false, false, "timeout")...)
	facts = append(facts, lifecycle("a2", false, false, "stale_target")...)
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, `failed_action(A, "timeout").`)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["A"] != "a1" {
		t.Errorf("expected only a1, got %v", results)
	}
}

func TestEngineBufferTrimDropsDerivedFacts(t *testing.T) {
	engine := newTestEngine(t, 3)
	ctx := context.Background()

	if err := engine.AddFacts(ctx, lifecycle("old", false, false, "timeout")); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	if err := engine.AddFacts(ctx, lifecycle("new", false, true, "")); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	if got := len(engine.Facts()); got != 3 {
		t.Fatalf("expected 3 buffered facts, got %d", got)
	}
	failed, err := engine.Query(ctx, "failed_action(A, K).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected trimmed premises to drop derived facts, got %v", failed)
	}
	if got := len(engine.FactsByPredicate("action_finished")); got != 1 {
		t.Errorf("expected 1 action_finished after trim, got %d", got)
	}
}

func TestEngineTemporalQuery(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	facts := []Fact{
		{Predicate: "action_started", Args: []interface{}{"a1", "click", "s1"}, Timestamp: base},
		{Predicate: "action_started", Args: []interface{}{"a2", "type", "s1"}, Timestamp: base.Add(time.Second)},
		{Predicate: "action_started", Args: []interface{}{"a3", "select", "s1"}, Timestamp: base.Add(2 * time.Second)},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	got := engine.QueryTemporal("action_started", base, base.Add(2*time.Second))
	if len(got) != 1 || got[0].Args[0] != "a2" {
		t.Errorf("expected only a2 inside the window, got %v", got)
	}
	if len(engine.QueryTemporal("action_started", time.Time{}, time.Time{})) != 3 {
		t.Error("expected open bounds to return every fact")
	}
	if len(engine.QueryTemporal("missing", time.Time{}, time.Time{})) != 0 {
		t.Error("expected no facts for an unknown predicate")
	}
}

func TestEngineAddRule(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()

	rule := `
Decl clicked_ok(ActionID, LatencyMs).
clicked_ok(A, L) :- action_finished(A, "click", "true", _, L).
`
	if err := engine.AddRule(rule); err != nil {
		t.Fatalf("AddRule failed: %v", err)
	}

	facts := []Fact{
		{Predicate: "action_finished", Args: []interface{}{"c1", "click", true, "", int64(1500)}, Timestamp: time.Now()},
		{Predicate: "action_finished", Args: []interface{}{"t1", "type", true, "", int64(20)}, Timestamp: time.Now()},
		{Predicate: "action_finished", Args: []interface{}{"c2", "click", false, "timeout", int64(3000)}, Timestamp: time.Now()},
	}
	if err := engine.AddFacts(ctx, facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "clicked_ok(A, L).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["A"] != "c1" || results[0]["L"] != int64(1500) {
		t.Errorf("expected clicked_ok(c1, 1500), got %v", results)
	}
}

func TestEngineAddRuleParseError(t *testing.T) {
	engine := newTestEngine(t, 100)
	if err := engine.AddRule("this is not mangle((("); err == nil {
		t.Error("expected parse error")
	}
	// A rejected rule must leave the loaded program intact.
	if _, err := engine.Query(context.Background(), "healed_action(A)."); err != nil {
		t.Errorf("expected program to survive a bad rule, got %v", err)
	}
}

func TestEngineSchemaFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.mg")
	extra := "Decl typed_action(ActionID).\ntyped_action(A) :- action_started(A, \"type\", _).\n"
	if err := os.WriteFile(path, []byte(extra), 0o644); err != nil {
		t.Fatal(err)
	}

	engine, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: path, FactBufferLimit: 10}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()
	if err := engine.AddFacts(ctx, []Fact{
		{Predicate: "action_started", Args: []interface{}{"a1", "type", "s1"}, Timestamp: time.Now()},
	}); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
	got, err := engine.Evaluate(ctx, "typed_action")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected one typed_action, got %v", got)
	}
}

func TestEngineSchemaFileMissing(t *testing.T) {
	_, err := NewEngine(config.MangleConfig{Enable: true, SchemaPath: "/nonexistent/schema.mg"}, nil)
	if err == nil {
		t.Error("expected error for missing schema file")
	}
}

func TestEngineDisabled(t *testing.T) {
	engine, err := NewEngine(config.MangleConfig{Enable: false}, nil)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	ctx := context.Background()
	if err := engine.AddFacts(ctx, lifecycle("a1", false, true, "")); err != nil {
		t.Errorf("AddFacts on disabled engine should be a no-op, got %v", err)
	}
	if len(engine.Facts()) != 0 {
		t.Error("expected disabled engine to drop facts")
	}
	if _, err := engine.Query(ctx, "healed_action(A)."); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
	if _, err := engine.Evaluate(ctx, "healed_action"); !errors.Is(err, ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestEngineEvaluateUnknownPredicate(t *testing.T) {
	engine := newTestEngine(t, 10)
	if _, err := engine.Evaluate(context.Background(), "no_such_predicate"); err == nil {
		t.Error("expected error for unknown predicate")
	}
}

func TestEngineCancelledContext(t *testing.T) {
	engine := newTestEngine(t, 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.AddFacts(ctx, lifecycle("a1", false, true, "")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestEngineQueryReturnsIntegerArgs(t *testing.T) {
	engine := newTestEngine(t, 100)
	ctx := context.Background()
	if err := engine.AddFacts(ctx, lifecycle("a1", false, true, "")); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}

	results, err := engine.Query(ctx, "action_finished(A, K, O, E, L).")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || results[0]["L"] != int64(40) {
		t.Fatalf("expected latency 40, got %#v", results)
	}
	if _, err := json.Marshal(results); err != nil {
		t.Errorf("query results are not JSON encodable: %v", err)
	}

	facts, err := engine.Evaluate(ctx, "action_finished")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Args[4] != int64(40) {
		t.Errorf("expected latency 40 in evaluated fact, got %#v", facts)
	}
}

func TestToConstantRoundTrip(t *testing.T) {
	tests := []struct {
		in   interface{}
		want interface{}
	}{
		{"x", "x"},
		{7, int64(7)},
		{int64(9), int64(9)},
		{0.5, 0.5},
		{true, "true"},
		{false, "false"},
		{struct{}{}, "{}"},
	}
	for _, tt := range tests {
		if got := convertConstant(toConstant(tt.in)); got != tt.want {
			t.Errorf("round trip of %#v: got %#v, want %#v", tt.in, got, tt.want)
		}
	}
}
