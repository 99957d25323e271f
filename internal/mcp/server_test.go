package mcp

import (
	"context"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/browser"
	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/mangle"
	"browsernerd-actions/internal/policy"

	"github.com/mark3labs/mcp-go/mcp"
)

func setupTestServerConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Name = "test-server"
	cfg.Server.Version = "1.0.0"
	cfg.Mangle.FactBufferLimit = 1000
	return cfg
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	server, err := NewServer(setupTestServerConfig(), deps)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	return server
}

func newFactEngine(t *testing.T) *mangle.Engine {
	t.Helper()
	engine, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 1000}, nil)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func TestNewServer(t *testing.T) {
	t.Run("requires an action engine", func(t *testing.T) {
		if _, err := NewServer(setupTestServerConfig(), Deps{}); err == nil {
			t.Error("expected error without actions")
		}
	})

	t.Run("registers only what deps allow", func(t *testing.T) {
		server := newTestServer(t, Deps{Actions: &fakeActions{}})
		for _, name := range []string{"click", "type-text", "select-option"} {
			if _, ok := server.tools[name]; !ok {
				t.Errorf("expected tool %q", name)
			}
		}
		for _, name := range []string{"action-facts", "list-sessions", "action-policy"} {
			if _, ok := server.tools[name]; ok {
				t.Errorf("did not expect tool %q", name)
			}
		}
	})

	t.Run("registers full tool set", func(t *testing.T) {
		server := newTestServer(t, Deps{
			Actions:  &fakeActions{},
			Facts:    newFactEngine(t),
			Policies: policy.NewStore(policy.Defaults()),
			Sessions: browser.NewSessionManager(config.BrowserConfig{}, browser.NewNetworkMonitor(8), nil),
			Network:  browser.NewNetworkMonitor(8),
		})
		want := []string{
			"click", "type-text", "select-option", "action-policy", "action-facts", "submit-rule",
			"launch-browser", "shutdown-browser", "list-sessions", "session-state", "create-session", "attach-session", "close-session",
		}
		if len(server.tools) != len(want) {
			t.Errorf("expected %d tools, got %d", len(want), len(server.tools))
		}
		for _, name := range want {
			if _, ok := server.tools[name]; !ok {
				t.Errorf("expected tool %q", name)
			}
		}
	})
}

func TestExecuteToolUnknown(t *testing.T) {
	server := newTestServer(t, Deps{Actions: &fakeActions{}})
	if _, err := server.ExecuteTool(context.Background(), "nope", nil); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestWrapToolResults(t *testing.T) {
	server := newTestServer(t, Deps{Actions: &fakeActions{}})
	handler := server.wrapTool(server.tools["click"])

	t.Run("success payload is the report", func(t *testing.T) {
		req := mcp.CallToolRequest{}
		req.Params.Name = "click"
		req.Params.Arguments = map[string]interface{}{
			"session_id": "s1",
			"target":     map[string]interface{}{"selector": "#buy"},
		}
		res, err := handler(context.Background(), req)
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if res.IsError {
			t.Fatalf("unexpected tool error: %+v", res.Content)
		}
		text := res.Content[0].(mcp.TextContent).Text
		var payload struct {
			Report action.Report `json:"report"`
		}
		if err := json.Unmarshal([]byte(text), &payload); err != nil {
			t.Fatalf("bad payload %q: %v", text, err)
		}
		if payload.Report.Kind != action.Click || payload.Report.SessionID != "s1" {
			t.Errorf("unexpected report: %+v", payload.Report)
		}
	})

	t.Run("errors become tool errors", func(t *testing.T) {
		req := mcp.CallToolRequest{}
		req.Params.Name = "click"
		res, err := handler(context.Background(), req)
		if err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if !res.IsError {
			t.Error("expected IsError for missing arguments")
		}
		text := res.Content[0].(mcp.TextContent).Text
		if !strings.Contains(text, "session_id is required") {
			t.Errorf("unexpected error text %q", text)
		}
	})
}

func TestMarshalToolPayloadFallback(t *testing.T) {
	payload := marshalToolPayload("bad", map[string]interface{}{"nan": math.NaN()})
	var out map[string]interface{}
	if err := json.Unmarshal(payload, &out); err != nil {
		t.Fatalf("fallback payload is not JSON: %v", err)
	}
	if out["success"] != false {
		t.Errorf("expected success=false, got %v", out["success"])
	}
}

func seedFacts(t *testing.T, engine *mangle.Engine) {
	t.Helper()
	now := time.Now()
	facts := []mangle.Fact{
		{Predicate: "action_started", Args: []interface{}{"a1", "click", "s1"}, Timestamp: now},
		{Predicate: "action_healed", Args: []interface{}{"a1", true, "text", 0.8}, Timestamp: now},
		{Predicate: "action_finished", Args: []interface{}{"a1", "click", true, "", int64(90)}, Timestamp: now},
		{Predicate: "action_started", Args: []interface{}{"a2", "type", "s1"}, Timestamp: now},
		{Predicate: "action_finished", Args: []interface{}{"a2", "type", false, "timeout", int64(5000)}, Timestamp: now},
	}
	if err := engine.AddFacts(context.Background(), facts); err != nil {
		t.Fatalf("AddFacts failed: %v", err)
	}
}

func TestActionFactsTool(t *testing.T) {
	engine := newFactEngine(t)
	seedFacts(t, engine)
	tool := &ActionFactsTool{engine: engine}
	ctx := context.Background()

	t.Run("default lists failed actions", func(t *testing.T) {
		result, err := tool.Execute(ctx, map[string]interface{}{})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		facts := result.(map[string]interface{})["facts"].([]mangle.Fact)
		if len(facts) != 1 || facts[0].Args[0] != "a2" || facts[0].Args[1] != "timeout" {
			t.Errorf("unexpected failed_action facts: %v", facts)
		}
	})

	t.Run("query binds variables", func(t *testing.T) {
		result, err := tool.Execute(ctx, map[string]interface{}{"query": "recovered_action(A)"})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		results := result.(map[string]interface{})["results"].([]mangle.QueryResult)
		if len(results) != 1 || results[0]["A"] != "a1" {
			t.Errorf("unexpected results: %v", results)
		}
	})

	t.Run("action_id returns base facts in order", func(t *testing.T) {
		result, err := tool.Execute(ctx, map[string]interface{}{"action_id": "a1"})
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		facts := result.(map[string]interface{})["facts"].([]mangle.Fact)
		if len(facts) != 3 {
			t.Fatalf("expected 3 facts, got %d", len(facts))
		}
		if facts[0].Predicate != "action_started" || facts[2].Predicate != "action_finished" {
			t.Errorf("unexpected order: %v", facts)
		}
	})

	t.Run("unknown predicate", func(t *testing.T) {
		if _, err := tool.Execute(ctx, map[string]interface{}{"predicate": "nope"}); err == nil {
			t.Error("expected error for unknown predicate")
		}
	})
}

func TestSubmitRuleTool(t *testing.T) {
	engine := newFactEngine(t)
	tool := &SubmitRuleTool{engine: engine}
	ctx := context.Background()

	if _, err := tool.Execute(ctx, map[string]interface{}{}); err == nil {
		t.Error("expected error for empty rule")
	}
	if _, err := tool.Execute(ctx, map[string]interface{}{"rule": "broken((("}); err == nil {
		t.Error("expected parse error")
	}

	rule := "Decl typed(ActionID).\ntyped(A) :- action_started(A, \"type\", _).\n"
	if _, err := tool.Execute(ctx, map[string]interface{}{"rule": rule}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	seedFacts(t, engine)
	facts, err := engine.Evaluate(ctx, "typed")
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(facts) != 1 || facts[0].Args[0] != "a2" {
		t.Errorf("unexpected typed facts: %v", facts)
	}
}

func TestActionPolicyTool(t *testing.T) {
	store := policy.NewStore(policy.Defaults())
	tool := &ActionPolicyTool{policies: store}

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	out := result.(map[string]interface{})
	set := out["policy"].(policy.Set)
	if !set.Click.AllowSelfHeal {
		t.Error("expected default click policy to allow self-heal")
	}
	if out["version"] != store.Version() {
		t.Errorf("unexpected version %v", out["version"])
	}
}

func TestSelectRecentActionFacts(t *testing.T) {
	engine := newFactEngine(t)
	seedFacts(t, engine)

	if got := selectRecentActionFacts(nil, "a1", "", 10); len(got) != 0 {
		t.Error("expected no facts without engine")
	}
	got := selectRecentActionFacts(engine, "a1", "", 2)
	if len(got) != 2 || got[0].Predicate != "action_healed" || got[1].Predicate != "action_finished" {
		t.Errorf("expected newest two facts in order, got %v", got)
	}
	got = selectRecentActionFacts(engine, "a2", "action_finished", 10)
	if len(got) != 1 {
		t.Errorf("expected one action_finished for a2, got %v", got)
	}
}

func TestAsInt(t *testing.T) {
	tests := []struct {
		in   any
		want int
	}{
		{nil, 0},
		{7, 7},
		{float64(9), 9},
		{"12", 12},
		{[]string{"3"}, 3},
		{"x", 0},
	}
	for _, tt := range tests {
		if got := asInt(tt.in); got != tt.want {
			t.Errorf("asInt(%#v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
