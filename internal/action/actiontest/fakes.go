// Package actiontest provides recording fakes for the action engine ports.
package actiontest

import (
	"context"
	"strings"
	"sync"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
)

// Calls records the names of port methods in call order.
type Calls struct {
	mu    sync.Mutex
	names []string
}

func (c *Calls) record(name string) {
	c.mu.Lock()
	c.names = append(c.names, name)
	c.mu.Unlock()
}

// Names returns a copy of the recorded calls.
func (c *Calls) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.names...)
}

// Count returns how many calls started with prefix.
func (c *Calls) Count(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, name := range c.names {
		if strings.HasPrefix(name, prefix) {
			n++
		}
	}
	return n
}

// Protocol is a scriptable protocol port.
type Protocol struct {
	Calls

	Box   anchor.Rect
	URL   string
	Title string

	// Values are returned by successive ReadValue calls; the last one repeats.
	Values []string
	// OptionSets are returned by successive Options calls; the last one repeats.
	OptionSets [][]action.SelectOptionInfo

	// ClickFn, when set, decides the outcome of DispatchClick.
	ClickFn func(ctx context.Context, in action.MouseInput) error
	// ScrollFn, when set, decides the outcome of ScrollIntoView.
	ScrollFn func(ctx context.Context, target anchor.Descriptor) error

	WaitErr  error
	URLErr   error
	TitleErr error
	ReadErr  error
	ApplyErr error

	mu       sync.Mutex
	clicks   []action.MouseInput
	typed    []rune
	set      []string
	applied  [][]int
	reads    int
	optReads int
}

func (p *Protocol) ScrollIntoView(ctx context.Context, _ action.Route, target anchor.Descriptor) error {
	p.record("protocol.scroll")
	if p.ScrollFn != nil {
		return p.ScrollFn(ctx, target)
	}
	return nil
}

func (p *Protocol) Focus(context.Context, action.Route, anchor.Descriptor) error {
	p.record("protocol.focus")
	return nil
}

func (p *Protocol) Geometry(context.Context, action.Route, anchor.Descriptor) (anchor.Rect, error) {
	p.record("protocol.geometry")
	if p.Box.Area() == 0 {
		return anchor.Rect{X: 10, Y: 10, Width: 100, Height: 40}, nil
	}
	return p.Box, nil
}

func (p *Protocol) DispatchClick(ctx context.Context, _ action.Route, in action.MouseInput) error {
	p.record("protocol.click")
	if p.ClickFn != nil {
		if err := p.ClickFn(ctx, in); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, in)
	p.mu.Unlock()
	return nil
}

func (p *Protocol) TypeRune(_ context.Context, _ action.Route, ch rune) error {
	p.record("protocol.type_rune")
	p.mu.Lock()
	p.typed = append(p.typed, ch)
	p.mu.Unlock()
	return nil
}

func (p *Protocol) SetValue(_ context.Context, _ action.Route, _ anchor.Descriptor, value string, paste bool) error {
	p.record("protocol.set_value")
	p.mu.Lock()
	p.set = append(p.set, value)
	p.mu.Unlock()
	return nil
}

func (p *Protocol) ClearField(context.Context, action.Route, anchor.Descriptor, action.ClearConfig) error {
	p.record("protocol.clear")
	return nil
}

func (p *Protocol) PressEnter(context.Context, action.Route) error {
	p.record("protocol.enter")
	return nil
}

func (p *Protocol) ReadValue(context.Context, action.Route, anchor.Descriptor) (string, error) {
	p.record("protocol.read_value")
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReadErr != nil && p.reads > 0 {
		return "", p.ReadErr
	}
	if len(p.Values) == 0 {
		p.reads++
		return "", nil
	}
	i := min(p.reads, len(p.Values)-1)
	p.reads++
	return p.Values[i], nil
}

func (p *Protocol) Options(context.Context, action.Route, anchor.Descriptor) ([]action.SelectOptionInfo, error) {
	p.record("protocol.options")
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.OptionSets) == 0 {
		return nil, nil
	}
	i := min(p.optReads, len(p.OptionSets)-1)
	p.optReads++
	return p.OptionSets[i], nil
}

func (p *Protocol) ApplySelection(_ context.Context, _ action.Route, _ anchor.Descriptor, indices []int) error {
	p.record("protocol.apply_selection")
	if p.ApplyErr != nil {
		return p.ApplyErr
	}
	p.mu.Lock()
	p.applied = append(p.applied, append([]int(nil), indices...))
	p.mu.Unlock()
	return nil
}

func (p *Protocol) WaitReady(context.Context, action.Route, string) error {
	p.record("protocol.wait")
	return p.WaitErr
}

func (p *Protocol) CurrentURL(context.Context, action.Route) (string, error) {
	p.record("protocol.url")
	return p.URL, p.URLErr
}

func (p *Protocol) CurrentTitle(context.Context, action.Route) (string, error) {
	p.record("protocol.title")
	return p.Title, p.TitleErr
}

// Clicks returns the dispatched clicks.
func (p *Protocol) Clicks() []action.MouseInput {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]action.MouseInput(nil), p.clicks...)
}

// Typed returns the runes sent one by one.
func (p *Protocol) Typed() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return string(p.typed)
}

// SetValues returns the values set in one call.
func (p *Protocol) SetValues() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.set...)
}

// Applied returns every ApplySelection argument.
func (p *Protocol) Applied() [][]int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]int(nil), p.applied...)
}

// Element is the scripted readiness of one backend node.
type Element struct {
	Hidden       bool
	Blocked      bool
	Disabled     bool
	Readonly     bool
	MaxLength    int
	PasswordLike bool
	Detached     bool
}

// Structural answers readiness from a per-node script. Unknown nodes are ready.
type Structural struct {
	Calls

	Elements map[int64]Element
	Digest   action.DOMDigest
	DiffErr  error
}

func (s *Structural) element(target anchor.Descriptor) (Element, error) {
	el := s.Elements[target.BackendNodeID]
	if el.Detached {
		return el, action.ErrStaleTarget
	}
	return el, nil
}

func (s *Structural) Visible(_ context.Context, _ action.Route, target anchor.Descriptor) (bool, error) {
	s.record("structural.visible")
	el, err := s.element(target)
	return !el.Hidden, err
}

func (s *Structural) Interactable(_ context.Context, _ action.Route, target anchor.Descriptor) (bool, error) {
	s.record("structural.interactable")
	el, err := s.element(target)
	return !el.Blocked, err
}

func (s *Structural) Enabled(_ context.Context, _ action.Route, target anchor.Descriptor) (*bool, error) {
	s.record("structural.enabled")
	el, err := s.element(target)
	enabled := !el.Disabled
	return &enabled, err
}

func (s *Structural) Field(_ context.Context, _ action.Route, target anchor.Descriptor) (action.FieldInfo, error) {
	s.record("structural.field")
	el, err := s.element(target)
	return action.FieldInfo{Readonly: el.Readonly, MaxLength: el.MaxLength, PasswordLike: el.PasswordLike}, err
}

func (s *Structural) Baseline(context.Context, action.Route) (action.Baseline, error) {
	s.record("structural.baseline")
	return action.Baseline{NodeCount: 100}, nil
}

func (s *Structural) Diff(context.Context, action.Route, action.Baseline) (action.DOMDigest, error) {
	s.record("structural.diff")
	return s.Digest, s.DiffErr
}

// Network returns a fixed digest.
type Network struct {
	Calls
	Result action.NetDigest
}

func (n *Network) Mark(context.Context, action.Route) (action.NetMark, error) {
	n.record("network.mark")
	return 7, nil
}

func (n *Network) Digest(_ context.Context, _ action.Route, _ action.NetMark) (action.NetDigest, error) {
	n.record("network.digest")
	return n.Result, nil
}

// Locator returns a scripted outcome.
type Locator struct {
	Calls
	Outcome action.HealOutcome
	Err     error
}

func (l *Locator) TryOnce(context.Context, action.Route, anchor.Descriptor, string) (action.HealOutcome, error) {
	l.record("locator.try_once")
	return l.Outcome, l.Err
}

// Events keeps every emitted event.
type Events struct {
	mu        sync.Mutex
	Started   []action.StartedEvent
	Prechecks []action.PrecheckEvent
	Finished  []action.Report
}

func (e *Events) EmitStarted(_ context.Context, ev action.StartedEvent) {
	e.mu.Lock()
	e.Started = append(e.Started, ev)
	e.mu.Unlock()
}

func (e *Events) EmitPrecheck(_ context.Context, ev action.PrecheckEvent) {
	e.mu.Lock()
	e.Prechecks = append(e.Prechecks, ev)
	e.mu.Unlock()
}

func (e *Events) EmitFinished(_ context.Context, report action.Report) {
	e.mu.Lock()
	e.Finished = append(e.Finished, report)
	e.mu.Unlock()
}

// Metrics counts observations by key.
type Metrics struct {
	mu     sync.Mutex
	Counts map[string]int
}

func (m *Metrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Counts == nil {
		m.Counts = make(map[string]int)
	}
	m.Counts[key]++
}

func (m *Metrics) ObserveAction(kind action.Kind, ok bool, errKind action.ErrorKind, _ time.Duration) {
	if ok {
		m.inc("action:" + string(kind) + ":ok")
		return
	}
	m.inc("action:" + string(kind) + ":" + string(errKind))
}

func (m *Metrics) PrecheckFailed(kind action.Kind, field string) {
	m.inc("precheck:" + string(kind) + ":" + field)
}

func (m *Metrics) SelfHeal(kind action.Kind, success bool) {
	if success {
		m.inc("heal:" + string(kind) + ":success")
		return
	}
	m.inc("heal:" + string(kind) + ":failure")
}

// Get returns the count for key.
func (m *Metrics) Get(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Counts[key]
}

var (
	_ action.Protocol   = (*Protocol)(nil)
	_ action.Structural = (*Structural)(nil)
	_ action.Network    = (*Network)(nil)
	_ action.Locator    = (*Locator)(nil)
	_ action.Events     = (*Events)(nil)
	_ action.Metrics    = (*Metrics)(nil)
)
