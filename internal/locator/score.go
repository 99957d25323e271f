package locator

import (
	"sort"
	"strings"

	"browsernerd-actions/internal/anchor"
)

// Weights are the maximum contribution of each score component.
type Weights struct {
	Seed          float64 `yaml:"seed" json:"seed"`
	Backend       float64 `yaml:"backend" json:"backend"`
	Geometry      float64 `yaml:"geometry" json:"geometry"`
	Accessibility float64 `yaml:"accessibility" json:"accessibility"`
	Text          float64 `yaml:"text" json:"text"`
	Fuzzy         float64 `yaml:"fuzzy" json:"fuzzy"`
}

// DefaultWeights returns the calibrated default weights.
func DefaultWeights() Weights {
	return Weights{
		Seed:          0.30,
		Backend:       0.25,
		Geometry:      0.15,
		Accessibility: 0.15,
		Text:          0.15,
		Fuzzy:         0.08,
	}
}

// scored is a candidate with its breakdown.
type scored struct {
	candidate
	score anchor.ScoreBreakdown
}

// proximity is 1 at the hinted position and falls off with distance in px.
func proximity(hint *anchor.Rect, box anchor.Rect) float64 {
	if hint == nil {
		return 1
	}
	return 1 / (1 + box.Distance(*hint)/200)
}

func score(w Weights, primary anchor.Descriptor, c candidate) anchor.ScoreBreakdown {
	var comps []anchor.Component
	add := func(label string, weight, factor float64) {
		if factor <= 0 || weight <= 0 {
			return
		}
		comps = append(comps, anchor.Component{Label: label, Weight: weight, Contribution: weight * factor})
	}

	add(anchor.LabelConfidence, w.Seed, primary.Confidence)
	if primary.HasHandle() && c.el.BackendNodeID == primary.BackendNodeID {
		add(anchor.LabelBackend, w.Backend, 1)
	}
	if c.el.Visible && c.el.Box.Area() > 0 {
		add(anchor.LabelGeometry, w.Geometry, proximity(primary.Hint, c.el.Box))
	}

	role := primary.Role
	if role == "" {
		role = inferRole(primary.Selector)
	}
	aria := 0.0
	if role != "" && strings.EqualFold(c.el.Role, role) {
		aria += 0.5
	}
	if name := strings.TrimSpace(primary.Name); name != "" && strings.EqualFold(strings.TrimSpace(c.el.Name), name) {
		aria += 0.5
	}
	add(anchor.LabelAccessibility, w.Accessibility, aria)

	text := strings.TrimSpace(c.el.Text)
	literal := strings.TrimSpace(primary.Text)
	switch {
	case literal != "" && strings.EqualFold(text, literal):
		add(anchor.LabelText, w.Text, 1)
	case literal != "" && containsFold(text, literal):
		add(anchor.LabelTextFuzzy, w.Fuzzy, 1)
	default:
		if kws := keywords(primary.Selector); len(kws) > 0 {
			hits := 0
			for _, kw := range kws {
				if containsFold(text, kw) || containsFold(c.el.Name, kw) {
					hits++
				}
			}
			add(anchor.LabelTextFuzzy, w.Fuzzy, float64(hits)/float64(len(kws)))
		}
	}
	return anchor.NewBreakdown(comps)
}

func containsFold(s, sub string) bool {
	return sub != "" && strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

// rank orders scored candidates best first: higher total, then strategy
// priority, then larger visible area. Backend id and selector make the order
// total so the input order never matters.
func rank(items []scored) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.score.Total != b.score.Total {
			return a.score.Total > b.score.Total
		}
		if ra, rb := strategyRank(a.strategy), strategyRank(b.strategy); ra != rb {
			return ra < rb
		}
		if aa, ab := a.el.Box.Area(), b.el.Box.Area(); aa != ab {
			return aa > ab
		}
		if a.el.BackendNodeID != b.el.BackendNodeID {
			return a.el.BackendNodeID < b.el.BackendNodeID
		}
		return a.el.Selector < b.el.Selector
	})
}
