package mcp

import (
	"context"
	"fmt"
	"strings"

	"browsernerd-actions/internal/mangle"
	"browsernerd-actions/internal/policy"
)

const defaultFactLimit = 50

// ActionFactsTool reads action lifecycle facts and the views derived from them.
type ActionFactsTool struct {
	engine *mangle.Engine
}

func (t *ActionFactsTool) Name() string { return "action-facts" }
func (t *ActionFactsTool) Description() string {
	return `Query facts recorded for executed actions.

BASE FACTS:
- action_started(ActionID, Kind, SessionID)
- action_precheck(ActionID, Visible, Interactable, Failed)
- action_healed(ActionID, Success, Strategy, Score)
- action_finished(ActionID, Kind, Ok, ErrorKind, LatencyMs)

DERIVED:
- healed_action(ActionID), recovered_action(ActionID)
- failed_action(ActionID, ErrorKind), session_with_failure(SessionID)

USAGE:
- query: a single atom with variables, e.g. failed_action(A, "stale_target").
- predicate: every fact of one predicate (default failed_action)
- action_id: base facts of one action, oldest first

Returns: {results} for query, otherwise {facts}.`
}
func (t *ActionFactsTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Mangle atom to match, ending in a period",
			},
			"predicate": map[string]interface{}{
				"type":        "string",
				"description": "Predicate to list",
			},
			"action_id": map[string]interface{}{
				"type":        "string",
				"description": "Restrict base facts to one action",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum facts returned (default 50)",
			},
		},
	}
}
func (t *ActionFactsTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	limit := getIntArg(args, "limit", defaultFactLimit)
	if limit <= 0 {
		limit = defaultFactLimit
	}

	if q := strings.TrimSpace(getStringArg(args, "query")); q != "" {
		if !strings.HasSuffix(q, ".") {
			q += "."
		}
		results, err := t.engine.Query(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(results) > limit {
			results = results[:limit]
		}
		return map[string]interface{}{"query": q, "count": len(results), "results": results}, nil
	}

	if id := getStringArg(args, "action_id"); id != "" {
		facts := selectRecentActionFacts(t.engine, id, getStringArg(args, "predicate"), limit)
		return map[string]interface{}{"action_id": id, "count": len(facts), "facts": facts}, nil
	}

	predicate := getStringArg(args, "predicate")
	if predicate == "" {
		predicate = "failed_action"
	}
	facts, err := t.engine.Evaluate(ctx, predicate)
	if err != nil {
		return nil, err
	}
	if len(facts) > limit {
		facts = facts[len(facts)-limit:]
	}
	return map[string]interface{}{"predicate": predicate, "count": len(facts), "facts": facts}, nil
}

// SubmitRuleTool adds derived views at runtime.
type SubmitRuleTool struct {
	engine *mangle.Engine
}

func (t *SubmitRuleTool) Name() string { return "submit-rule" }
func (t *SubmitRuleTool) Description() string {
	return `Add Mangle declarations and rules over the action facts.

EXAMPLE:
  Decl slow_click(ActionID).
  slow_click(A) :- action_finished(A, "click", "true", _, L), :lt(2000, L).

Rules are re-evaluated against all buffered facts and then updated as new
actions finish. Query the result with action-facts.`
}
func (t *SubmitRuleTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"rule": map[string]interface{}{
				"type":        "string",
				"description": "Mangle source",
			},
		},
		"required": []string{"rule"},
	}
}
func (t *SubmitRuleTool) Execute(_ context.Context, args map[string]interface{}) (interface{}, error) {
	rule := getStringArg(args, "rule")
	if strings.TrimSpace(rule) == "" {
		return nil, fmt.Errorf("rule is required")
	}
	if err := t.engine.AddRule(rule); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "accepted"}, nil
}

// ActionPolicyTool reports the policy actions currently run under.
type ActionPolicyTool struct {
	policies *policy.Store
}

func (t *ActionPolicyTool) Name() string { return "action-policy" }
func (t *ActionPolicyTool) Description() string {
	return `Show the live action policy: per-kind enablement, allowed buttons and
modes, size limits, self-heal and paste permissions, wait tier and timeouts.

Use before acting to avoid policy_rejected errors.`
}
func (t *ActionPolicyTool) InputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{},
	}
}
func (t *ActionPolicyTool) Execute(_ context.Context, _ map[string]interface{}) (interface{}, error) {
	return map[string]interface{}{
		"version": t.policies.Version(),
		"policy":  t.policies.Snapshot(),
	}, nil
}
