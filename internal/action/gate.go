package action

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"browsernerd-actions/internal/policy"
)

// gate validates an operation against its policy view. It has no side
// effects; a rejection ends the action before any port is touched.
func gate(view policy.View, op operation) *Error {
	kind := op.kind()
	if !view.Enabled {
		return rejected(kind, "enabled", "%s is disabled by policy", kind)
	}
	switch p := op.(type) {
	case ClickParams:
		return gateClick(view, p)
	case TypeParams:
		return gateType(view, p)
	case SelectParams:
		return gateSelect(view, p)
	}
	return rejected(kind, "", "unsupported operation")
}

func gateClick(view policy.View, p ClickParams) *Error {
	switch p.Button {
	case ButtonLeft, ButtonMiddle, ButtonRight:
	default:
		return rejected(Click, "button", "unknown mouse button %q", p.Button)
	}
	if !view.ButtonAllowed(string(p.Button)) {
		return rejected(Click, "button", "%s button is not allowed", p.Button)
	}
	if !p.Modifiers.valid() {
		return rejected(Click, "modifiers", "unknown modifier bits %#x", uint8(p.Modifiers))
	}
	if p.ClickCount < 1 || (view.MaxClickCount > 0 && p.ClickCount > view.MaxClickCount) {
		return rejected(Click, "click_count", "click count %d outside 1..%d", p.ClickCount, view.MaxClickCount)
	}
	if p.Offset != nil {
		if math.IsNaN(p.Offset.X) || math.IsNaN(p.Offset.Y) ||
			math.Abs(p.Offset.X) > view.MaxOffsetPx || math.Abs(p.Offset.Y) > view.MaxOffsetPx {
			return rejected(Click, "offset", "offset (%.0f,%.0f) exceeds %.0fpx", p.Offset.X, p.Offset.Y, view.MaxOffsetPx)
		}
	}
	return nil
}

func gateType(view policy.View, p TypeParams) *Error {
	switch p.Mode {
	case InputCharacter, InputNatural, InputInstant, InputPaste:
	default:
		return rejected(TypeText, "mode", "unknown input mode %q", p.Mode)
	}
	if !view.ModeAllowed(string(p.Mode)) {
		return rejected(TypeText, "mode", "input mode %s is not allowed", p.Mode)
	}
	if p.Mode.fast() && !view.AllowPaste {
		return rejected(TypeText, "paste", "%s input requires paste permission", p.Mode)
	}
	if n := utf8.RuneCountInString(p.Text); view.MaxTextLen > 0 && n > view.MaxTextLen {
		return rejected(TypeText, "text", "text length %d exceeds %d", n, view.MaxTextLen)
	}
	switch p.Clear.Mode {
	case ClearNone, ClearSelectAllDelete, ClearBackspace:
	default:
		return rejected(TypeText, "clear", "unknown clear mode %q", p.Clear.Mode)
	}
	if p.Clear.MaxBackspace < 0 {
		return rejected(TypeText, "clear", "max backspace must not be negative")
	}
	return nil
}

func gateSelect(view policy.View, p SelectParams) *Error {
	switch p.Mode {
	case SelectSingle, SelectMultiple, SelectToggle:
	default:
		return rejected(SelectOption, "mode", "unknown select mode %q", p.Mode)
	}
	if !view.ModeAllowed(string(p.Mode)) {
		return rejected(SelectOption, "mode", "select mode %s is not allowed", p.Mode)
	}
	switch p.Match {
	case MatchValue, MatchLabel, MatchIndex:
		if len(p.Items) == 0 {
			return rejected(SelectOption, "items", "at least one item is required")
		}
	case MatchAnchor:
		if p.Option == nil {
			return rejected(SelectOption, "option", "anchor match requires an option anchor")
		}
	default:
		return rejected(SelectOption, "match", "unknown match kind %q", p.Match)
	}
	for _, item := range p.Items {
		if strings.TrimSpace(item) == "" {
			return rejected(SelectOption, "items", "items must not be blank")
		}
		if p.Match == MatchIndex {
			if n, err := strconv.Atoi(item); err != nil || n < 0 {
				return rejected(SelectOption, "items", "index %q is not a non-negative integer", item)
			}
		}
	}
	count := len(p.Items)
	if p.Match == MatchAnchor {
		count = 1
	}
	if p.Mode == SelectSingle && count != 1 {
		return rejected(SelectOption, "items", "single mode takes exactly one item, got %d", count)
	}
	if view.MaxSelectItems > 0 && count > view.MaxSelectItems {
		return rejected(SelectOption, "items", "%d items exceed %d", count, view.MaxSelectItems)
	}
	return nil
}
