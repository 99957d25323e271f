package browser

import (
	"context"
	"fmt"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/policy"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// Protocol implements action.Protocol with Rod.
type Protocol struct {
	pages PageSource
	// StableFor is how long the DOM must stay quiet for the auto wait tier.
	StableFor time.Duration
}

// NewProtocol creates a protocol adapter over pages.
func NewProtocol(pages PageSource) *Protocol {
	return &Protocol{pages: pages, StableFor: 300 * time.Millisecond}
}

func (p *Protocol) ScrollIntoView(ctx context.Context, route action.Route, target anchor.Descriptor) error {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return err
	}
	return wrap("scroll into view", el.ScrollIntoView())
}

func (p *Protocol) Focus(ctx context.Context, route action.Route, target anchor.Descriptor) error {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return err
	}
	return wrap("focus", el.Focus())
}

func (p *Protocol) Geometry(ctx context.Context, route action.Route, target anchor.Descriptor) (anchor.Rect, error) {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return anchor.Rect{}, err
	}
	return elementBox(el)
}

func elementBox(el *rod.Element) (anchor.Rect, error) {
	shape, err := el.Shape()
	if err != nil {
		return anchor.Rect{}, wrap("element shape", err)
	}
	box := shape.Box()
	if box == nil {
		return anchor.Rect{}, nil
	}
	return anchor.Rect{X: box.X, Y: box.Y, Width: box.Width, Height: box.Height}, nil
}

// mouseButton maps the engine's button names onto CDP buttons.
func mouseButton(b action.MouseButton) proto.InputMouseButton {
	switch b {
	case action.ButtonRight:
		return proto.InputMouseButtonRight
	case action.ButtonMiddle:
		return proto.InputMouseButtonMiddle
	default:
		return proto.InputMouseButtonLeft
	}
}

// cdpModifiers maps the modifier bitmask onto CDP's (Alt=1, Ctrl=2, Meta=4, Shift=8).
func cdpModifiers(m action.Modifiers) int {
	out := 0
	if m&action.ModAlt != 0 {
		out |= 1
	}
	if m&action.ModCtrl != 0 {
		out |= 2
	}
	if m&action.ModMeta != 0 {
		out |= 4
	}
	if m&action.ModShift != 0 {
		out |= 8
	}
	return out
}

// DispatchClick moves to the point and sends one press/release pair per
// click, with the click count rising so the page sees dblclick etc.
func (p *Protocol) DispatchClick(ctx context.Context, route action.Route, in action.MouseInput) error {
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return err
	}
	mods := cdpModifiers(in.Modifiers)
	if err := (proto.InputDispatchMouseEvent{
		Type:      proto.InputDispatchMouseEventTypeMouseMoved,
		X:         in.X,
		Y:         in.Y,
		Modifiers: mods,
	}).Call(page); err != nil {
		return fmt.Errorf("mouse move: %w", err)
	}
	count := in.Count
	if count <= 0 {
		count = 1
	}
	button := mouseButton(in.Button)
	for i := 1; i <= count; i++ {
		for _, typ := range []proto.InputDispatchMouseEventType{
			proto.InputDispatchMouseEventTypeMousePressed,
			proto.InputDispatchMouseEventTypeMouseReleased,
		} {
			if err := (proto.InputDispatchMouseEvent{
				Type:       typ,
				X:          in.X,
				Y:          in.Y,
				Button:     button,
				ClickCount: i,
				Modifiers:  mods,
			}).Call(page); err != nil {
				return fmt.Errorf("mouse %s: %w", typ, err)
			}
		}
	}
	return nil
}

// TypeRune sends a keydown carrying the character, then a keyup.
func (p *Protocol) TypeRune(ctx context.Context, route action.Route, ch rune) error {
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return err
	}
	text := string(ch)
	if err := (proto.InputDispatchKeyEvent{
		Type:           proto.InputDispatchKeyEventTypeKeyDown,
		Key:            text,
		Text:           text,
		UnmodifiedText: text,
	}).Call(page); err != nil {
		return fmt.Errorf("key down: %w", err)
	}
	if err := (proto.InputDispatchKeyEvent{
		Type: proto.InputDispatchKeyEventTypeKeyUp,
		Key:  text,
	}).Call(page); err != nil {
		return fmt.Errorf("key up: %w", err)
	}
	return nil
}

// SetValue writes value in one call. Paste inserts it as composed text into
// the focused field; otherwise the value property is set and input/change fire.
func (p *Protocol) SetValue(ctx context.Context, route action.Route, target anchor.Descriptor, value string, paste bool) error {
	page, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return err
	}
	if paste {
		if err := el.Focus(); err != nil {
			return wrap("focus", err)
		}
		return wrap("insert text", page.InsertText(value))
	}
	_, err = el.Eval(jsSetValue, value)
	return wrap("set value", err)
}

func (p *Protocol) ClearField(ctx context.Context, route action.Route, target anchor.Descriptor, clear action.ClearConfig) error {
	page, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return err
	}
	switch clear.Mode {
	case action.ClearSelectAllDelete:
		if err := el.SelectAllText(); err != nil {
			return wrap("select all", err)
		}
		return wrap("delete selection", page.Keyboard.Press(input.Backspace))
	case action.ClearBackspace:
		if err := el.Focus(); err != nil {
			return wrap("focus", err)
		}
		// Move the caret to the end so backspace removes existing content.
		if _, err := el.Eval(jsCaretToEnd); err != nil {
			return wrap("caret to end", err)
		}
		current, err := readValue(el)
		if err != nil {
			return err
		}
		n := len([]rune(current))
		limit := clear.MaxBackspace
		if limit <= 0 {
			limit = action.DefaultMaxBackspace
		}
		if n > limit {
			n = limit
		}
		for i := 0; i < n; i++ {
			if err := page.Keyboard.Type(input.Backspace); err != nil {
				return wrap("backspace", err)
			}
		}
		return nil
	default:
		return nil
	}
}

func (p *Protocol) PressEnter(ctx context.Context, route action.Route) error {
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return err
	}
	return wrap("press enter", page.Keyboard.Press(input.Enter))
}

func (p *Protocol) ReadValue(ctx context.Context, route action.Route, target anchor.Descriptor) (string, error) {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return "", err
	}
	return readValue(el)
}

func readValue(el *rod.Element) (string, error) {
	res, err := el.Eval(jsReadValue)
	if err != nil {
		return "", wrap("read value", err)
	}
	return res.Value.Str(), nil
}

type optionState struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Options lists the select's options in document order with their handles.
func (p *Protocol) Options(ctx context.Context, route action.Route, target anchor.Descriptor) ([]action.SelectOptionInfo, error) {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(jsOptions)
	if err != nil {
		return nil, wrap("read options", err)
	}
	var states []optionState
	if err := res.Value.Unmarshal(&states); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	nodes, err := el.Elements("option")
	if err != nil {
		return nil, wrap("query options", err)
	}

	out := make([]action.SelectOptionInfo, len(states))
	for i, s := range states {
		out[i] = action.SelectOptionInfo{Index: i, Value: s.Value, Label: s.Label, Selected: s.Selected}
		if i < len(nodes) {
			if id, err := backendID(nodes[i]); err == nil {
				out[i].BackendNodeID = id
			}
		}
	}
	return out, nil
}

func (p *Protocol) ApplySelection(ctx context.Context, route action.Route, target anchor.Descriptor, indices []int) error {
	_, el, err := element(ctx, p.pages, route, target)
	if err != nil {
		return err
	}
	if indices == nil {
		indices = []int{}
	}
	_, err = el.Eval(jsApplySelection, indices)
	return wrap("apply selection", err)
}

// WaitReady blocks until the page reaches tier or ctx ends.
func (p *Protocol) WaitReady(ctx context.Context, route action.Route, tier string) error {
	if tier == policy.WaitNone {
		return nil
	}
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return err
	}
	switch tier {
	case policy.WaitDOMReady:
		_, err := page.Eval(jsDOMReady)
		return err
	default:
		if err := page.WaitLoad(); err != nil {
			return err
		}
		return page.WaitDOMStable(p.StableFor, 0)
	}
}

func (p *Protocol) CurrentURL(ctx context.Context, route action.Route) (string, error) {
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.URL, nil
}

func (p *Protocol) CurrentTitle(ctx context.Context, route action.Route) (string, error) {
	page, err := pageFor(ctx, p.pages, route)
	if err != nil {
		return "", err
	}
	info, err := page.Info()
	if err != nil {
		return "", err
	}
	return info.Title, nil
}

var _ action.Protocol = (*Protocol)(nil)
