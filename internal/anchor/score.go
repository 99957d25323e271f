package anchor

import (
	"fmt"
	"sort"
	"strings"
)

// Component labels used in score breakdowns.
const (
	LabelConfidence    = "confidence"
	LabelBackend       = "backend"
	LabelGeometry      = "geometry"
	LabelVisibility    = "visibility"
	LabelAccessibility = "accessibility"
	LabelText          = "text"
	LabelTextFuzzy     = "text-fuzzy"
)

// Component is one weighted input to a candidate's score.
type Component struct {
	Label        string  `json:"label"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// ScoreBreakdown explains how a candidate's total was reached.
type ScoreBreakdown struct {
	Total      float64     `json:"total"`
	Components []Component `json:"components"`
}

// NewBreakdown sums the contributions into a total clamped to [0,1].
func NewBreakdown(components []Component) ScoreBreakdown {
	total := 0.0
	for _, c := range components {
		total += c.Contribution
	}
	return ScoreBreakdown{Total: clamp01(total), Components: components}
}

// FromConfidence builds a breakdown when no reasoning is available.
func FromConfidence(confidence float64) ScoreBreakdown {
	c := clamp01(confidence)
	return ScoreBreakdown{
		Total:      c,
		Components: []Component{{Label: LabelConfidence, Weight: 1, Contribution: c}},
	}
}

// Top returns up to n components ordered by contribution, highest first.
// Equal contributions keep their original order.
func (s ScoreBreakdown) Top(n int) []Component {
	comps := s.Components
	if len(comps) == 0 {
		comps = FromConfidence(s.Total).Components
	}
	sorted := make([]Component, len(comps))
	copy(sorted, comps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Contribution > sorted[j].Contribution
	})
	if n >= 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// Summarize renders the total and the three strongest components,
// e.g. "score=0.90; backend id match +0.25, screen area +0.15".
func (s ScoreBreakdown) Summarize() string {
	top := s.Top(3)
	parts := make([]string, 0, len(top))
	for _, c := range top {
		parts = append(parts, fmt.Sprintf("%s +%.2f", labelText(c.Label), c.Contribution))
	}
	return fmt.Sprintf("score=%.2f; %s", s.Total, strings.Join(parts, ", "))
}

func labelText(label string) string {
	switch label {
	case LabelConfidence:
		return "seed confidence"
	case LabelBackend, "strategy-backend":
		return "backend id match"
	case LabelGeometry, "strategy-geometry":
		return "screen area"
	case LabelVisibility:
		return "visible geometry"
	case LabelAccessibility, "strategy-aria":
		return "accessibility hints"
	case LabelText, "strategy-text":
		return "text match"
	case LabelTextFuzzy:
		return "fuzzy text"
	default:
		return label
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
