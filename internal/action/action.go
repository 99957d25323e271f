// Package action executes click, type and select operations against a live
// page. Each call runs one pipeline: policy gate, precheck, at most one
// self-heal, dispatch, wait, post-signal capture and report assembly.
package action

import (
	"errors"
	"fmt"
	"time"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/policy"

	"github.com/google/uuid"
)

// Kind names an operation kind.
type Kind string

const (
	Click        Kind = "click"
	TypeText     Kind = "type"
	SelectOption Kind = "select"
)

func (k Kind) view(set policy.Set) policy.View {
	switch k {
	case TypeText:
		return set.Type
	case SelectOption:
		return set.Select
	default:
		return set.Click
	}
}

// Route addresses the frame an action runs in. MutexKey is the key the
// scheduler serializes on; the engine only carries it through.
type Route struct {
	SessionID string `json:"session_id"`
	PageID    string `json:"page_id,omitempty"`
	FrameID   string `json:"frame_id,omitempty"`
	MutexKey  string `json:"mutex_key,omitempty"`
}

// ExecCtx is the per-action execution context supplied by the caller.
// Cancellation travels on the context.Context passed next to it.
type ExecCtx struct {
	ActionID string
	Route    Route
	Deadline time.Time
}

// NewExecCtx creates a context with a fresh action id and a deadline timeout from now.
func NewExecCtx(route Route, timeout time.Duration) ExecCtx {
	if route.MutexKey == "" {
		route.MutexKey = route.SessionID + "/" + route.FrameID
	}
	return ExecCtx{
		ActionID: uuid.NewString(),
		Route:    route,
		Deadline: time.Now().Add(timeout),
	}
}

func (ec ExecCtx) validate() error {
	if ec.ActionID == "" {
		return errors.New("action id is required")
	}
	if ec.Route.SessionID == "" {
		return errors.New("route session id is required")
	}
	return nil
}

// MouseButton is a mouse button name.
type MouseButton string

const (
	ButtonLeft   MouseButton = "left"
	ButtonMiddle MouseButton = "middle"
	ButtonRight  MouseButton = "right"
)

// Modifiers is a keyboard modifier bitmask.
type Modifiers uint8

const (
	ModCtrl  Modifiers = 1
	ModShift Modifiers = 2
	ModAlt   Modifiers = 4
	ModMeta  Modifiers = 8
)

func (m Modifiers) valid() bool {
	return m&^(ModCtrl|ModShift|ModAlt|ModMeta) == 0
}

// Offset shifts the click point away from the element center.
type Offset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ClickParams configures a click.
type ClickParams struct {
	Button     MouseButton `json:"button,omitempty"`
	Modifiers  Modifiers   `json:"modifiers,omitempty"`
	ClickCount int         `json:"click_count,omitempty"`
	Offset     *Offset     `json:"offset,omitempty"`
}

// InputMode controls how text reaches the field.
type InputMode string

const (
	// InputCharacter sends one key event per character without pacing.
	InputCharacter InputMode = "character"
	// InputNatural sends one key event per character paced by the tempo plan.
	InputNatural InputMode = "natural"
	// InputInstant sets the value in one protocol call.
	InputInstant InputMode = "instant"
	// InputPaste inserts the text as a single paste.
	InputPaste InputMode = "paste"
)

func (m InputMode) fast() bool {
	return m == InputInstant || m == InputPaste
}

// ClearMode controls how existing field content is removed before typing.
type ClearMode string

const (
	ClearNone            ClearMode = "none"
	ClearSelectAllDelete ClearMode = "select-all-delete"
	ClearBackspace       ClearMode = "backspace"
)

// DefaultMaxBackspace bounds backspace clearing.
const DefaultMaxBackspace = 64

// ClearConfig configures clearing.
type ClearConfig struct {
	Mode         ClearMode `json:"mode,omitempty"`
	MaxBackspace int       `json:"max_backspace,omitempty"`
}

// TypeParams configures typing. Text never leaves the engine in clear.
type TypeParams struct {
	Text   string      `json:"-"`
	Mode   InputMode   `json:"mode,omitempty"`
	Clear  ClearConfig `json:"clear,omitempty"`
	Submit bool        `json:"submit,omitempty"`
}

// MatchKind tells how select items identify options.
type MatchKind string

const (
	MatchValue  MatchKind = "value"
	MatchLabel  MatchKind = "label"
	MatchIndex  MatchKind = "index"
	MatchAnchor MatchKind = "anchor"
)

// SelectMode controls how requested options combine with the current selection.
type SelectMode string

const (
	// SelectSingle selects exactly one option.
	SelectSingle SelectMode = "single"
	// SelectMultiple makes the requested options the selection.
	SelectMultiple SelectMode = "multiple"
	// SelectToggle flips each requested option.
	SelectToggle SelectMode = "toggle"
)

// SelectParams configures an option selection.
type SelectParams struct {
	Match  MatchKind          `json:"match,omitempty"`
	Items  []string           `json:"items,omitempty"`
	Mode   SelectMode         `json:"mode,omitempty"`
	Option *anchor.Descriptor `json:"option,omitempty"`
}

// Options are per-call knobs shared by all operation kinds.
type Options struct {
	// Wait overrides the policy's default wait tier.
	Wait string
	// Timeout shrinks the ExecCtx deadline; it never extends it.
	Timeout time.Duration
	// Priority is passed through to the report unchanged.
	Priority int
}

// operation is the tagged union of parameter types.
type operation interface {
	kind() Kind
}

func (ClickParams) kind() Kind  { return Click }
func (TypeParams) kind() Kind   { return TypeText }
func (SelectParams) kind() Kind { return SelectOption }

func (p ClickParams) withDefaults() ClickParams {
	if p.Button == "" {
		p.Button = ButtonLeft
	}
	if p.ClickCount == 0 {
		p.ClickCount = 1
	}
	return p
}

func (p TypeParams) withDefaults() TypeParams {
	if p.Mode == "" {
		p.Mode = InputCharacter
	}
	if p.Clear.Mode == "" {
		p.Clear.Mode = ClearNone
	}
	if p.Clear.Mode == ClearBackspace && p.Clear.MaxBackspace == 0 {
		p.Clear.MaxBackspace = DefaultMaxBackspace
	}
	return p
}

func (p SelectParams) withDefaults() SelectParams {
	if p.Match == "" {
		p.Match = MatchValue
	}
	if p.Mode == "" {
		p.Mode = SelectSingle
	}
	return p
}

func withDefaults(op operation) operation {
	switch p := op.(type) {
	case ClickParams:
		return p.withDefaults()
	case TypeParams:
		return p.withDefaults()
	case SelectParams:
		return p.withDefaults()
	default:
		panic(fmt.Sprintf("action: unknown operation %T", op))
	}
}
