package mcp

import (
	"context"
	"fmt"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/browser"
)

// actionRunner holds what the three action tools share: building the
// execution context, reading per-call options and touching the session.
type actionRunner struct {
	actions  Actions
	sessions *browser.SessionManager
	timeout  time.Duration
}

type actionCall struct {
	ec     action.ExecCtx
	target anchor.Descriptor
	opts   action.Options
}

func (r *actionRunner) prepare(args map[string]interface{}) (actionCall, error) {
	sessionID := getStringArg(args, "session_id")
	if sessionID == "" {
		return actionCall{}, fmt.Errorf("session_id is required")
	}
	target, ok := getAnchorArg(args, "target")
	if !ok {
		return actionCall{}, fmt.Errorf("target is required")
	}
	if err := target.Validate(); err != nil {
		return actionCall{}, fmt.Errorf("target: %w", err)
	}

	timeout := r.timeout
	if ms := getIntArg(args, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	route := newRoute(sessionID, getStringArg(args, "page_id"), getStringArg(args, "frame_id"))

	return actionCall{
		ec:     action.NewExecCtx(route, timeout),
		target: target,
		opts: action.Options{
			Wait:     getStringArg(args, "wait"),
			Priority: getIntArg(args, "priority", 0),
		},
	}, nil
}

// finish turns the engine result into the tool payload. A report with a
// recorded failure is still a successful tool call.
func (r *actionRunner) finish(report action.Report, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	if r.sessions != nil && report.PostSignals != nil {
		r.sessions.Touch(report.SessionID, report.PostSignals.URL, report.PostSignals.Title)
	}
	return map[string]interface{}{"report": report}, nil
}

func actionSchema(extra map[string]interface{}, required ...string) map[string]interface{} {
	props := map[string]interface{}{
		"session_id": map[string]interface{}{
			"type":        "string",
			"description": "Session to act in",
		},
		"frame_id": map[string]interface{}{
			"type":        "string",
			"description": "Frame id (default: main)",
		},
		"target": map[string]interface{}{
			"type":        "object",
			"description": "Anchor of the element to act on",
			"properties":  anchorSchema(),
		},
		"wait": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"none", "dom-ready", "auto"},
			"description": "Wait tier after dispatch (default from policy)",
		},
		"timeout_ms": map[string]interface{}{
			"type":        "integer",
			"description": "Deadline for the whole action",
		},
		"priority": map[string]interface{}{
			"type":        "integer",
			"description": "Scheduler priority, echoed in the report",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"session_id", "target"}, required...),
	}
}

type ClickTool struct {
	run *actionRunner
}

func (t *ClickTool) Name() string { return "click" }
func (t *ClickTool) Description() string {
	return `Click an element with precheck, one self-heal attempt and post-signal capture.

WHAT IT DOES:
- Checks the target is visible and interactable before clicking
- If the anchor went stale, re-locates it once (selector, ARIA, text)
- Captures DOM change, network digest, URL and title after the click

Returns: {report} with ok, precheck, post_signals, self_heal and a categorized error.`
}
func (t *ClickTool) InputSchema() map[string]interface{} {
	return actionSchema(map[string]interface{}{
		"button": map[string]interface{}{
			"type": "string",
			"enum": []string{"left", "middle", "right"},
		},
		"modifiers": map[string]interface{}{
			"type":        "integer",
			"description": "Bitmask: Ctrl=1, Shift=2, Alt=4, Meta=8",
		},
		"click_count": map[string]interface{}{
			"type":        "integer",
			"description": "1 for single, 2 for double click",
		},
		"offset": map[string]interface{}{
			"type":        "object",
			"description": "{x, y} offset from the element center in CSS pixels",
		},
	})
}
func (t *ClickTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	call, err := t.run.prepare(args)
	if err != nil {
		return nil, err
	}
	params := action.ClickParams{
		Button:     action.MouseButton(getStringArg(args, "button")),
		Modifiers:  action.Modifiers(getIntArg(args, "modifiers", 0)),
		ClickCount: getIntArg(args, "click_count", 0),
	}
	if off, ok := args["offset"].(map[string]interface{}); ok {
		params.Offset = &action.Offset{X: getFloatArg(off, "x", 0), Y: getFloatArg(off, "y", 0)}
	}
	return t.run.finish(t.run.actions.Click(ctx, call.ec, call.target, params, call.opts))
}

type TypeTextTool struct {
	run *actionRunner
}

func (t *TypeTextTool) Name() string { return "type-text" }
func (t *TypeTextTool) Description() string {
	return `Type text into an input or textarea.

MODES:
- character: one key event per character (default)
- natural: character mode with human pacing
- instant / paste: one value-set call; requires allow_paste in policy

The typed text never appears in the report; only lengths and a hash do.

Returns: {report} with post_signals.value {changed, old_len, new_len, hash_after}.`
}
func (t *TypeTextTool) InputSchema() map[string]interface{} {
	return actionSchema(map[string]interface{}{
		"text": map[string]interface{}{
			"type":        "string",
			"description": "Text to type",
		},
		"mode": map[string]interface{}{
			"type": "string",
			"enum": []string{"character", "natural", "instant", "paste"},
		},
		"clear": map[string]interface{}{
			"type":        "string",
			"enum":        []string{"none", "select-all-delete", "backspace"},
			"description": "How to remove existing content first",
		},
		"max_backspace": map[string]interface{}{
			"type":        "integer",
			"description": "Upper bound for backspace clearing (default 64)",
		},
		"submit": map[string]interface{}{
			"type":        "boolean",
			"description": "Press Enter after typing",
		},
	}, "text")
}
func (t *TypeTextTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	call, err := t.run.prepare(args)
	if err != nil {
		return nil, err
	}
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text is required")
	}
	params := action.TypeParams{
		Text: text,
		Mode: action.InputMode(getStringArg(args, "mode")),
		Clear: action.ClearConfig{
			Mode:         action.ClearMode(getStringArg(args, "clear")),
			MaxBackspace: getIntArg(args, "max_backspace", 0),
		},
		Submit: getBoolArg(args, "submit", false),
	}
	return t.run.finish(t.run.actions.Type(ctx, call.ec, call.target, params, call.opts))
}

type SelectOptionTool struct {
	run *actionRunner
}

func (t *SelectOptionTool) Name() string { return "select-option" }
func (t *SelectOptionTool) Description() string {
	return `Select options in a <select> element.

MATCH:
- value (default), label, index: items name the options
- anchor: option is an anchor of the <option> element itself

MODES: single (exactly one item), multiple (items become the selection),
toggle (flip each item).

Returns: {report} with post_signals.selection {changed, selected_count, selected_indices}.`
}
func (t *SelectOptionTool) InputSchema() map[string]interface{} {
	return actionSchema(map[string]interface{}{
		"items": map[string]interface{}{
			"type":        "array",
			"items":       map[string]interface{}{"type": "string"},
			"description": "Option values, labels or indices",
		},
		"match": map[string]interface{}{
			"type": "string",
			"enum": []string{"value", "label", "index", "anchor"},
		},
		"mode": map[string]interface{}{
			"type": "string",
			"enum": []string{"single", "multiple", "toggle"},
		},
		"option": map[string]interface{}{
			"type":        "object",
			"description": "Anchor of the option when match is anchor",
			"properties":  anchorSchema(),
		},
	})
}
func (t *SelectOptionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	call, err := t.run.prepare(args)
	if err != nil {
		return nil, err
	}
	params := action.SelectParams{
		Match: action.MatchKind(getStringArg(args, "match")),
		Items: getStringSliceArg(args, "items"),
		Mode:  action.SelectMode(getStringArg(args, "mode")),
	}
	if opt, ok := getAnchorArg(args, "option"); ok {
		params.Option = &opt
	}
	return t.run.finish(t.run.actions.Select(ctx, call.ec, call.target, params, call.opts))
}

const mainFrame = "main"

// newRoute builds the route for a session frame. Actions on the same frame
// share a mutex key so a scheduler can serialize them.
func newRoute(sessionID, pageID, frameID string) action.Route {
	if frameID == "" {
		frameID = mainFrame
	}
	return action.Route{SessionID: sessionID, PageID: pageID, FrameID: frameID, MutexKey: sessionID + "/" + frameID}
}
