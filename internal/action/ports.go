package action

import (
	"context"
	"time"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/policy"
	"browsernerd-actions/internal/tempo"
)

// MouseInput is a resolved click at page coordinates.
type MouseInput struct {
	X         float64
	Y         float64
	Button    MouseButton
	Modifiers Modifiers
	Count     int
}

// SelectOptionInfo describes one option of a select element.
type SelectOptionInfo struct {
	Index         int
	Value         string
	Label         string
	BackendNodeID int64
	Selected      bool
}

// Protocol drives the browser for a route.
type Protocol interface {
	ScrollIntoView(ctx context.Context, route Route, target anchor.Descriptor) error
	Focus(ctx context.Context, route Route, target anchor.Descriptor) error
	Geometry(ctx context.Context, route Route, target anchor.Descriptor) (anchor.Rect, error)
	DispatchClick(ctx context.Context, route Route, in MouseInput) error
	// TypeRune sends key events for a single character to the focused element.
	TypeRune(ctx context.Context, route Route, ch rune) error
	// SetValue replaces the field value in one call.
	SetValue(ctx context.Context, route Route, target anchor.Descriptor, value string, paste bool) error
	ClearField(ctx context.Context, route Route, target anchor.Descriptor, clear ClearConfig) error
	PressEnter(ctx context.Context, route Route) error
	ReadValue(ctx context.Context, route Route, target anchor.Descriptor) (string, error)
	Options(ctx context.Context, route Route, target anchor.Descriptor) ([]SelectOptionInfo, error)
	// ApplySelection makes exactly the given option indices selected.
	ApplySelection(ctx context.Context, route Route, target anchor.Descriptor, indices []int) error
	WaitReady(ctx context.Context, route Route, tier string) error
	CurrentURL(ctx context.Context, route Route) (string, error)
	CurrentTitle(ctx context.Context, route Route) (string, error)
}

// FieldInfo is the editable state of a form control.
type FieldInfo struct {
	Readonly     bool
	MaxLength    int
	PasswordLike bool
}

// Baseline is an opaque structural snapshot used for diffs.
type Baseline struct {
	NodeCount   int
	FocusedNode int64
	Token       string
}

// Structural answers readiness questions about a target and diffs the DOM.
type Structural interface {
	Visible(ctx context.Context, route Route, target anchor.Descriptor) (bool, error)
	Interactable(ctx context.Context, route Route, target anchor.Descriptor) (bool, error)
	// Enabled returns nil when the element has no notion of being enabled.
	Enabled(ctx context.Context, route Route, target anchor.Descriptor) (*bool, error)
	Field(ctx context.Context, route Route, target anchor.Descriptor) (FieldInfo, error)
	Baseline(ctx context.Context, route Route) (Baseline, error)
	Diff(ctx context.Context, route Route, since Baseline) (DOMDigest, error)
}

// NetMark is a position in a route's network activity stream.
type NetMark uint64

// Network summarizes response activity for a route.
type Network interface {
	Mark(ctx context.Context, route Route) (NetMark, error)
	Digest(ctx context.Context, route Route, since NetMark) (NetDigest, error)
}

// HealOutcome is the result of one resolution attempt. UsedAnchor is nil
// when no candidate cleared the confidence threshold.
type HealOutcome struct {
	UsedAnchor *anchor.Descriptor
	Score      anchor.ScoreBreakdown
	Strategy   string
}

// Locator is the self-heal boundary.
type Locator interface {
	TryOnce(ctx context.Context, route Route, primary anchor.Descriptor, reason string) (HealOutcome, error)
}

// StartedEvent is emitted when an action passes the policy gate.
type StartedEvent struct {
	ActionID  string
	Kind      Kind
	Route     Route
	Target    anchor.Descriptor
	StartedAt time.Time
}

// PrecheckEvent is emitted after every precheck run.
type PrecheckEvent struct {
	ActionID  string
	Kind      Kind
	Attempt   int
	Snapshot  PrecheckSnapshot
	Violation string
}

// Events receives fire-and-forget lifecycle notifications.
type Events interface {
	EmitStarted(ctx context.Context, ev StartedEvent)
	EmitPrecheck(ctx context.Context, ev PrecheckEvent)
	EmitFinished(ctx context.Context, report Report)
}

// Metrics records counters and timers for actions.
type Metrics interface {
	ObserveAction(kind Kind, ok bool, errKind ErrorKind, latency time.Duration)
	PrecheckFailed(kind Kind, field string)
	SelfHeal(kind Kind, success bool)
}

// Tempo paces actions.
type Tempo interface {
	Prepare(req tempo.Request) tempo.Plan
	Apply(ctx context.Context, d time.Duration) error
}

// PolicySource hands out the policy snapshot an action runs under.
type PolicySource interface {
	Snapshot() policy.Set
}
