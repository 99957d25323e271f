package action

import (
	"context"
	"time"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/tempo"
)

// NoopProtocol accepts every call without touching a browser.
type NoopProtocol struct{}

func (NoopProtocol) ScrollIntoView(context.Context, Route, anchor.Descriptor) error { return nil }
func (NoopProtocol) Focus(context.Context, Route, anchor.Descriptor) error          { return nil }
func (NoopProtocol) Geometry(context.Context, Route, anchor.Descriptor) (anchor.Rect, error) {
	return anchor.Rect{Width: 1, Height: 1}, nil
}
func (NoopProtocol) DispatchClick(context.Context, Route, MouseInput) error { return nil }
func (NoopProtocol) TypeRune(context.Context, Route, rune) error           { return nil }
func (NoopProtocol) SetValue(context.Context, Route, anchor.Descriptor, string, bool) error {
	return nil
}
func (NoopProtocol) ClearField(context.Context, Route, anchor.Descriptor, ClearConfig) error {
	return nil
}
func (NoopProtocol) PressEnter(context.Context, Route) error { return nil }
func (NoopProtocol) ReadValue(context.Context, Route, anchor.Descriptor) (string, error) {
	return "", nil
}
func (NoopProtocol) Options(context.Context, Route, anchor.Descriptor) ([]SelectOptionInfo, error) {
	return nil, nil
}
func (NoopProtocol) ApplySelection(context.Context, Route, anchor.Descriptor, []int) error {
	return nil
}
func (NoopProtocol) WaitReady(context.Context, Route, string) error           { return nil }
func (NoopProtocol) CurrentURL(context.Context, Route) (string, error)        { return "", nil }
func (NoopProtocol) CurrentTitle(context.Context, Route) (string, error)      { return "", nil }

// NoopStructural reports every target as ready.
type NoopStructural struct{}

func (NoopStructural) Visible(context.Context, Route, anchor.Descriptor) (bool, error) {
	return true, nil
}
func (NoopStructural) Interactable(context.Context, Route, anchor.Descriptor) (bool, error) {
	return true, nil
}
func (NoopStructural) Enabled(context.Context, Route, anchor.Descriptor) (*bool, error) {
	return nil, nil
}
func (NoopStructural) Field(context.Context, Route, anchor.Descriptor) (FieldInfo, error) {
	return FieldInfo{}, nil
}
func (NoopStructural) Baseline(context.Context, Route) (Baseline, error) { return Baseline{}, nil }
func (NoopStructural) Diff(context.Context, Route, Baseline) (DOMDigest, error) {
	return DOMDigest{}, nil
}

// NoopNetwork reports no activity.
type NoopNetwork struct{}

func (NoopNetwork) Mark(context.Context, Route) (NetMark, error) { return 0, nil }
func (NoopNetwork) Digest(context.Context, Route, NetMark) (NetDigest, error) {
	return NetDigest{}, nil
}

// NoopLocator never finds a replacement.
type NoopLocator struct{}

func (NoopLocator) TryOnce(context.Context, Route, anchor.Descriptor, string) (HealOutcome, error) {
	return HealOutcome{}, nil
}

// NoopEvents drops every event.
type NoopEvents struct{}

func (NoopEvents) EmitStarted(context.Context, StartedEvent)   {}
func (NoopEvents) EmitPrecheck(context.Context, PrecheckEvent) {}
func (NoopEvents) EmitFinished(context.Context, Report)        {}

// NoopMetrics drops every observation.
type NoopMetrics struct{}

func (NoopMetrics) ObserveAction(Kind, bool, ErrorKind, time.Duration) {}
func (NoopMetrics) PrecheckFailed(Kind, string)                        {}
func (NoopMetrics) SelfHeal(Kind, bool)                                {}

var (
	_ Protocol   = NoopProtocol{}
	_ Structural = NoopStructural{}
	_ Network    = NoopNetwork{}
	_ Locator    = NoopLocator{}
	_ Events     = NoopEvents{}
	_ Metrics    = NoopMetrics{}
	_ Tempo      = tempo.Noop{}
)
