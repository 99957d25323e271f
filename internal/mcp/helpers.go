package mcp

import (
	"fmt"
	"strconv"

	"browsernerd-actions/internal/anchor"
)

func getStringArg(args map[string]interface{}, key string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return ""
	}
	switch v := val.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

func getIntArg(args map[string]interface{}, key string, fallback int) int {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getInt64Arg(args map[string]interface{}, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	}
	return 0
}

func getFloatArg(args map[string]interface{}, key string, fallback float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

// getBoolArg extracts a boolean argument with default.
func getBoolArg(args map[string]interface{}, key string, fallback bool) bool {
	val, ok := args[key]
	if !ok {
		return fallback
	}
	if b, ok := val.(bool); ok {
		return b
	}
	return fallback
}

// getStringSliceArg accepts a JSON array or a single string.
func getStringSliceArg(args map[string]interface{}, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if item == nil {
				continue
			}
			if s, ok := item.(string); ok {
				out = append(out, s)
				continue
			}
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

// getAnchorArg reads anchor fields from args, or from the nested object under
// key when key is non-empty.
func getAnchorArg(args map[string]interface{}, key string) (anchor.Descriptor, bool) {
	src := args
	if key != "" {
		nested, ok := args[key].(map[string]interface{})
		if !ok {
			return anchor.Descriptor{}, false
		}
		src = nested
	}
	d := anchor.Descriptor{
		BackendNodeID: getInt64Arg(src, "backend_node_id"),
		Selector:      getStringArg(src, "selector"),
		Role:          getStringArg(src, "role"),
		Name:          getStringArg(src, "name"),
		Text:          getStringArg(src, "text"),
		Confidence:    getFloatArg(src, "confidence", 1),
	}
	if hint, ok := src["hint"].(map[string]interface{}); ok {
		d.Hint = &anchor.Rect{
			X:      getFloatArg(hint, "x", 0),
			Y:      getFloatArg(hint, "y", 0),
			Width:  getFloatArg(hint, "width", 0),
			Height: getFloatArg(hint, "height", 0),
		}
	}
	return d, true
}

// anchorSchema lists the anchor properties shared by every action tool.
func anchorSchema() map[string]interface{} {
	return map[string]interface{}{
		"backend_node_id": map[string]interface{}{
			"type":        "integer",
			"description": "CDP backend node id of the target; the strongest handle",
		},
		"selector": map[string]interface{}{
			"type":        "string",
			"description": "CSS selector used to find the target and to re-locate it",
		},
		"role": map[string]interface{}{
			"type":        "string",
			"description": "ARIA role hint (button, link, textbox, combobox, ...)",
		},
		"name": map[string]interface{}{
			"type":        "string",
			"description": "Accessible name hint",
		},
		"text": map[string]interface{}{
			"type":        "string",
			"description": "Visible text hint",
		},
		"confidence": map[string]interface{}{
			"type":        "number",
			"description": "Planner confidence in the anchor (0..1, default 1)",
		},
		"hint": map[string]interface{}{
			"type":        "object",
			"description": "Last known bounding box {x, y, width, height}",
		},
	}
}
