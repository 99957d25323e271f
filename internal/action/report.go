package action

import (
	"time"

	"browsernerd-actions/internal/anchor"
)

// PrecheckSnapshot is the readiness state observed right before dispatch.
type PrecheckSnapshot struct {
	Visible      bool  `json:"visible"`
	Interactable bool  `json:"interactable"`
	Enabled      *bool `json:"enabled"`
	Readonly     *bool `json:"readonly,omitempty"`
	MaxLength    int   `json:"maxlength,omitempty"`
	PasswordLike bool  `json:"password_like,omitempty"`
	// Detached is set when the target could not be found at all.
	Detached bool `json:"detached,omitempty"`
}

// violation names the first failed predicate for kind, or "".
func (p PrecheckSnapshot) violation(kind Kind) string {
	switch {
	case p.Detached:
		return "attached"
	case !p.Visible:
		return "visible"
	case !p.Interactable:
		return "interactable"
	}
	if kind == Click {
		return ""
	}
	switch {
	case p.Enabled != nil && !*p.Enabled:
		return "enabled"
	case p.Readonly != nil && *p.Readonly:
		return "readonly"
	}
	return ""
}

// SelfHeal records the single recovery attempt of an action.
type SelfHeal struct {
	Attempted  bool               `json:"attempted"`
	Reason     string             `json:"reason,omitempty"`
	UsedAnchor *anchor.Descriptor `json:"used_anchor,omitempty"`
	Strategy   string             `json:"strategy,omitempty"`
	Score      float64            `json:"score,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
}

// DOMDigest summarizes structural change since the baseline.
type DOMDigest struct {
	ChangedNodes int  `json:"changed_nodes"`
	FocusChanged bool `json:"focus_changed"`
}

// NetDigest counts responses by class since the baseline.
type NetDigest struct {
	Res2xx    int `json:"res2xx"`
	Res3xx    int `json:"res3xx,omitempty"`
	Res4xx    int `json:"res4xx,omitempty"`
	Res5xx    int `json:"res5xx,omitempty"`
	Redirects int `json:"redirects"`
	Failed    int `json:"failed,omitempty"`
}

// ValueDigest describes a typed field without its content.
type ValueDigest struct {
	Changed   bool   `json:"changed"`
	OldLen    int    `json:"old_len"`
	NewLen    int    `json:"new_len"`
	HashAfter string `json:"hash_after,omitempty"`
}

// SelectionDigest describes a select element after the operation.
type SelectionDigest struct {
	Changed         bool   `json:"changed"`
	SelectedCount   int    `json:"selected_count"`
	SelectedIndices []int  `json:"selected_indices"`
	SelectedHash    string `json:"selected_hash"`
}

// PostSignals is the evidence gathered after dispatch.
type PostSignals struct {
	DOM       DOMDigest        `json:"dom"`
	Network   NetDigest        `json:"network"`
	URL       string           `json:"url"`
	Title     string           `json:"title"`
	Value     *ValueDigest     `json:"value,omitempty"`
	Selection *SelectionDigest `json:"selection,omitempty"`
	// Incomplete lists reads that failed; their digests are zero.
	Incomplete []string `json:"incomplete,omitempty"`
}

// Report is the result of one action. Treat it as read-only.
type Report struct {
	ActionID    string            `json:"action_id"`
	Kind        Kind              `json:"kind"`
	SessionID   string            `json:"session_id"`
	OK          bool              `json:"ok"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	LatencyMS   int64             `json:"latency_ms"`
	Priority    int               `json:"priority,omitempty"`
	Precheck    *PrecheckSnapshot `json:"precheck,omitempty"`
	PostSignals *PostSignals      `json:"post_signals,omitempty"`
	SelfHeal    SelfHeal          `json:"self_heal"`
	Error       *Error            `json:"error,omitempty"`
}

// ErrorKind returns the failure kind or "" on success.
func (r Report) ErrorKind() ErrorKind {
	if r.Error == nil {
		return ""
	}
	return r.Error.Kind
}

// latencyMS floors at zero when the clock went backwards.
func latencyMS(started, finished time.Time) int64 {
	d := finished.Sub(started)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}
