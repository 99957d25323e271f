// Package policy holds the per-operation limits the action engine enforces.
package policy

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Wait tiers accepted in policy and options.
const (
	WaitNone     = "none"
	WaitDOMReady = "dom-ready"
	WaitAuto     = "auto"
)

// Timeouts bounds each stage of an action, in milliseconds.
type Timeouts struct {
	PrecheckMS int `yaml:"precheck_ms" json:"precheck_ms"`
	ActionMS   int `yaml:"action_ms" json:"action_ms"`
	DOMReadyMS int `yaml:"domready_ms" json:"domready_ms"`
}

// Precheck returns the precheck budget with a sane default.
func (t Timeouts) Precheck() time.Duration {
	return msOr(t.PrecheckMS, 1500)
}

// Action returns the overall action budget with a sane default.
func (t Timeouts) Action() time.Duration {
	return msOr(t.ActionMS, 5000)
}

// DOMReady returns the settle budget with a sane default.
func (t Timeouts) DOMReady() time.Duration {
	return msOr(t.DOMReadyMS, 3000)
}

func msOr(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// View is the policy for a single operation kind.
type View struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	AllowSelfHeal bool     `yaml:"allow_self_heal" json:"allow_self_heal"`
	AllowPaste    bool     `yaml:"allow_paste" json:"allow_paste"`
	// AllowedButtons lists mouse buttons a click may use. Empty allows any.
	AllowedButtons []string `yaml:"allowed_buttons" json:"allowed_buttons,omitempty"`
	// AllowedModes lists input modes (type) or selection modes (select). Empty allows any.
	AllowedModes   []string `yaml:"allowed_modes" json:"allowed_modes,omitempty"`
	MaxTextLen     int      `yaml:"max_text_len" json:"max_text_len,omitempty"`
	MaxOffsetPx    float64  `yaml:"max_offset_px" json:"max_offset_px,omitempty"`
	MaxClickCount  int      `yaml:"max_click_count" json:"max_click_count,omitempty"`
	MaxSelectItems int      `yaml:"max_select_items" json:"max_select_items,omitempty"`
	DefaultWait    string   `yaml:"default_wait" json:"default_wait"`
	Timeouts       Timeouts `yaml:"timeouts" json:"timeouts"`
}

// ButtonAllowed reports whether the mouse button passes the allow-list.
func (v View) ButtonAllowed(button string) bool {
	return len(v.AllowedButtons) == 0 || slices.Contains(v.AllowedButtons, button)
}

// ModeAllowed reports whether the mode passes the allow-list.
func (v View) ModeAllowed(mode string) bool {
	return len(v.AllowedModes) == 0 || slices.Contains(v.AllowedModes, mode)
}

// Wait returns the default wait tier.
func (v View) Wait() string {
	if v.DefaultWait == "" {
		return WaitAuto
	}
	return v.DefaultWait
}

func (v View) validate(kind string) error {
	if v.MaxTextLen < 0 {
		return fmt.Errorf("%s.max_text_len must not be negative", kind)
	}
	if v.MaxOffsetPx < 0 {
		return fmt.Errorf("%s.max_offset_px must not be negative", kind)
	}
	if v.MaxClickCount < 0 || v.MaxSelectItems < 0 {
		return fmt.Errorf("%s limits must not be negative", kind)
	}
	switch v.DefaultWait {
	case "", WaitNone, WaitDOMReady, WaitAuto:
	default:
		return fmt.Errorf("%s.default_wait %q is not one of none, dom-ready, auto", kind, v.DefaultWait)
	}
	t := v.Timeouts
	if t.PrecheckMS < 0 || t.ActionMS < 0 || t.DOMReadyMS < 0 {
		return fmt.Errorf("%s.timeouts must not be negative", kind)
	}
	return nil
}

// Set groups the views of every operation kind.
type Set struct {
	Click  View `yaml:"click" json:"click"`
	Type   View `yaml:"type" json:"type"`
	Select View `yaml:"select" json:"select"`
}

// Defaults returns the policy used when nothing is configured.
func Defaults() Set {
	timeouts := Timeouts{PrecheckMS: 1500, ActionMS: 5000, DOMReadyMS: 3000}
	return Set{
		Click: View{
			Enabled:        true,
			AllowSelfHeal:  true,
			AllowedButtons: []string{"left"},
			MaxOffsetPx:    64,
			MaxClickCount:  3,
			DefaultWait:    WaitAuto,
			Timeouts:       timeouts,
		},
		Type: View{
			Enabled:       true,
			AllowSelfHeal: true,
			AllowPaste:    false,
			AllowedModes:  []string{"character", "natural"},
			MaxTextLen:    4096,
			DefaultWait:   WaitNone,
			Timeouts:      timeouts,
		},
		Select: View{
			Enabled:        true,
			AllowSelfHeal:  true,
			AllowedModes:   []string{"single"},
			MaxSelectItems: 32,
			DefaultWait:    WaitDOMReady,
			Timeouts:       timeouts,
		},
	}
}

// Validate checks every view.
func (s Set) Validate() error {
	return errors.Join(
		s.Click.validate("click"),
		s.Type.validate("type"),
		s.Select.validate("select"),
	)
}

// LoadFile reads a standalone policy document and overlays it on Defaults.
func LoadFile(path string) (Set, error) {
	set := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return set, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return set, fmt.Errorf("parse policy %s: %w", path, err)
	}
	return set, set.Validate()
}

// Store hands out consistent snapshots of the current policy and lets an
// external writer replace it at any time.
type Store struct {
	current atomic.Pointer[Set]
	version atomic.Uint64
}

// NewStore creates a store holding initial.
func NewStore(initial Set) *Store {
	s := &Store{}
	s.current.Store(&initial)
	s.version.Store(1)
	return s
}

// Snapshot returns the policy set current at the time of the call.
func (s *Store) Snapshot() Set {
	return *s.current.Load()
}

// Swap validates and installs a new policy set. Snapshots taken before the
// swap are unaffected.
func (s *Store) Swap(next Set) error {
	if err := next.Validate(); err != nil {
		return err
	}
	s.current.Store(&next)
	s.version.Add(1)
	return nil
}

// Version increases by one on every successful Swap.
func (s *Store) Version() uint64 {
	return s.version.Load()
}
