package locator

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeDocument answers queries from a fixed element list.
type fakeDocument struct {
	mu       sync.Mutex
	elements []Element
	failKind string
	queries  []Query
}

func (d *fakeDocument) Find(_ context.Context, _ action.Route, q Query) ([]Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, q)
	if q.Kind == d.failKind {
		return nil, errors.New("query failed")
	}
	var out []Element
	for _, el := range d.elements {
		var ok bool
		switch q.Kind {
		case QueryCSS:
			ok = el.Selector == q.Selector
		case QueryARIA:
			ok = (q.Role == "" || strings.EqualFold(el.Role, q.Role)) && strings.EqualFold(el.Name, q.Name)
		case QueryText:
			ok = strings.Contains(strings.ToLower(el.Text), strings.ToLower(q.Text))
		case QueryBackend:
			ok = el.BackendNodeID == q.BackendNodeID
		}
		if ok {
			out = append(out, el)
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (d *fakeDocument) kinds() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, q := range d.queries {
		out = append(out, q.Kind)
	}
	return out
}

var (
	route = action.Route{SessionID: "s1"}
	box   = anchor.Rect{X: 0, Y: 0, Width: 120, Height: 32}
)

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"submit", "action"}, keywords("#submit-action"))
	assert.Equal(t, []string{"user", "login"}, keywords(".user_login_form"))
	assert.Equal(t, []string{"nav", "item"}, keywords("div > ul.nav li.item"))
	assert.Empty(t, keywords("div > a"))
}

func TestInferRole(t *testing.T) {
	assert.Equal(t, "button", inferRole("#buy-btn"))
	assert.Equal(t, "link", inferRole("a.footer-link"))
	assert.Equal(t, "menuitem", inferRole(".menu-entry"))
	assert.Equal(t, "textbox", inferRole("#email-field"))
	assert.Empty(t, inferRole("#hero"))
}

func TestSelectorStrategyWins(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 7, Selector: "#buy", Text: "Buy", Box: box, Visible: true},
		{BackendNodeID: 8, Selector: "#other", Text: "Buy", Box: box, Visible: true},
	}}
	r := NewResolver(doc, DefaultConfig(), WithLogger(zaptest.NewLogger(t)))
	primary := anchor.Descriptor{BackendNodeID: 3, Selector: "#buy", Text: "Buy", Confidence: 0.9}

	out, err := r.TryOnce(context.Background(), route, primary, "precheck failed: not visible")
	require.NoError(t, err)

	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, int64(7), out.UsedAnchor.BackendNodeID)
	assert.Equal(t, "#buy", out.UsedAnchor.Selector)
	assert.Equal(t, StrategySelector, out.Strategy)
	assert.InDelta(t, 0.57, out.Score.Total, 1e-9)
	assert.InDelta(t, 0.57, out.UsedAnchor.Confidence, 1e-9)
	assert.Equal(t, []string{QueryCSS}, doc.kinds())
	assert.Equal(t, "score=0.57; seed confidence +0.27, screen area +0.15, text match +0.15", out.Score.Summarize())
}

func TestBackendLookupWithoutSelector(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 3, Text: "Save", Box: box, Visible: true},
	}}
	r := NewResolver(doc, DefaultConfig())
	primary := anchor.Descriptor{BackendNodeID: 3, Confidence: 0.5}

	out, err := r.TryOnce(context.Background(), route, primary, "dispatch failed: target detached")
	require.NoError(t, err)

	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, StrategySelector, out.Strategy)
	assert.InDelta(t, 0.55, out.Score.Total, 1e-9)
	assert.Equal(t, []string{QueryBackend}, doc.kinds())
}

func TestAccessibilityShortCircuitsText(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 11, Role: "button", Name: "Place order", Text: "Place order", Box: box, Visible: true},
	}}
	r := NewResolver(doc, DefaultConfig())
	primary := anchor.Descriptor{Selector: "#place-order-btn", Role: "button", Name: "Place order", Confidence: 0.8}

	out, err := r.TryOnce(context.Background(), route, primary, "precheck failed")
	require.NoError(t, err)

	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, StrategyAccessibility, out.Strategy)
	assert.Equal(t, []string{QueryCSS, QueryARIA}, doc.kinds())
	assert.Contains(t, out.Score.Summarize(), "accessibility hints +0.15")
}

func TestTextRolesFallback(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 12, Role: "link", Name: "Pricing", Text: "Pricing", Box: box, Visible: true},
	}}
	r := NewResolver(doc, DefaultConfig())
	primary := anchor.Descriptor{Text: "Pricing", Confidence: 0.9}

	out, err := r.TryOnce(context.Background(), route, primary, "precheck failed")
	require.NoError(t, err)

	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, StrategyAccessibility, out.Strategy)
	assert.Equal(t, []string{QueryARIA, QueryARIA, QueryARIA, QueryARIA}, doc.kinds())
}

func TestFuzzyTextFromSelectorKeywords(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 21, Role: "button", Name: "Checkout now", Text: "Checkout now", Box: box, Visible: true},
	}}
	cfg := DefaultConfig()
	cfg.MinConfidence = 0.3
	r := NewResolver(doc, cfg)
	primary := anchor.Descriptor{Selector: "#checkout-button-old", Confidence: 0.8}

	out, err := r.TryOnce(context.Background(), route, primary, "precheck failed")
	require.NoError(t, err)

	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, StrategyText, out.Strategy)
	labels := make([]string, 0, len(out.Score.Components))
	for _, c := range out.Score.Components {
		labels = append(labels, c.Label)
	}
	assert.Contains(t, labels, anchor.LabelTextFuzzy)
	assert.NotContains(t, labels, anchor.LabelBackend)
}

func TestThresholdIsExclusive(t *testing.T) {
	doc := &fakeDocument{elements: []Element{{BackendNodeID: 5, Selector: "#x", Box: box, Visible: true}}}
	cfg := Config{MinConfidence: 0.5, MaxCandidates: 10, Weights: Weights{Seed: 0.5}}
	primary := anchor.Descriptor{Selector: "#x", Confidence: 1}

	out, err := NewResolver(doc, cfg).TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	assert.Nil(t, out.UsedAnchor)

	cfg.MinConfidence = 0.49
	out, err = NewResolver(doc, cfg).TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, int64(5), out.UsedAnchor.BackendNodeID)
}

func TestUnusableCandidatesAreSkipped(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 7, Selector: "#buy", Text: "Buy", Box: box, Visible: false},
		{BackendNodeID: 8, Selector: "#buy", Text: "Buy", Visible: true},
		{BackendNodeID: 9, Selector: "#buy", Text: "Buy", Box: anchor.Rect{Width: 40, Height: 20}, Visible: true},
	}}
	primary := anchor.Descriptor{BackendNodeID: 7, Selector: "#buy", Text: "Buy", Confidence: 1}

	out, err := NewResolver(doc, DefaultConfig()).TryOnce(context.Background(), route, primary, "stale")
	require.NoError(t, err)
	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, int64(9), out.UsedAnchor.BackendNodeID)

	doc.elements = doc.elements[:2]
	out, err = NewResolver(doc, DefaultConfig()).TryOnce(context.Background(), route, primary, "stale")
	require.NoError(t, err)
	assert.Nil(t, out.UsedAnchor)
}

func TestNoCandidates(t *testing.T) {
	doc := &fakeDocument{}
	out, err := NewResolver(doc, DefaultConfig()).TryOnce(context.Background(), route, anchor.Descriptor{Selector: "#gone", Text: "Gone"}, "")
	require.NoError(t, err)
	assert.Nil(t, out.UsedAnchor)
}

func TestFailingStrategyIsSkipped(t *testing.T) {
	doc := &fakeDocument{
		failKind: QueryCSS,
		elements: []Element{{BackendNodeID: 9, Text: "Continue", Box: box, Visible: true}},
	}
	primary := anchor.Descriptor{Selector: "#continue", Text: "Continue", Confidence: 0.9}

	out, err := NewResolver(doc, DefaultConfig()).TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	require.NotNil(t, out.UsedAnchor)
	assert.Equal(t, StrategyText, out.Strategy)
}

func TestCancelledResolution(t *testing.T) {
	doc := &fakeDocument{failKind: QueryCSS}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(doc, DefaultConfig()).TryOnce(ctx, route, anchor.Descriptor{Selector: "#a"}, "")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealRateLimit(t *testing.T) {
	doc := &fakeDocument{}
	cfg := DefaultConfig()
	cfg.HealRatePerSec = 0.001
	r := NewResolver(doc, cfg)
	primary := anchor.Descriptor{Selector: "#a"}

	_, err := r.TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	_, err = r.TryOnce(context.Background(), route, primary, "")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = r.TryOnce(context.Background(), action.Route{SessionID: "s2"}, primary, "")
	assert.NoError(t, err)

	r.Forget("s1")
	_, err = r.TryOnce(context.Background(), route, primary, "")
	assert.NoError(t, err)
}

func TestCachedResolutionIsRevalidated(t *testing.T) {
	doc := &fakeDocument{elements: []Element{
		{BackendNodeID: 7, Selector: "#buy", Text: "Buy", Box: box, Visible: true},
	}}
	cache := NewMemoryCache(16, time.Minute)
	r := NewResolver(doc, DefaultConfig(), WithCache(cache))
	primary := anchor.Descriptor{BackendNodeID: 3, Selector: "#buy", Text: "Buy", Confidence: 0.9}

	first, err := r.TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	require.NotNil(t, first.UsedAnchor)
	assert.Equal(t, 1, cache.Len())

	second, err := r.TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	assert.Equal(t, StrategyCache, second.Strategy)
	assert.Equal(t, *first.UsedAnchor, *second.UsedAnchor)

	doc.mu.Lock()
	doc.elements = []Element{{BackendNodeID: 8, Selector: "#buy", Text: "Buy", Box: box, Visible: true}}
	doc.mu.Unlock()

	third, err := r.TryOnce(context.Background(), route, primary, "")
	require.NoError(t, err)
	require.NotNil(t, third.UsedAnchor)
	assert.Equal(t, StrategySelector, third.Strategy)
	assert.Equal(t, int64(8), third.UsedAnchor.BackendNodeID)
}

func TestRankOrdersTies(t *testing.T) {
	mk := func(id int64, total float64, strategy string, area float64) scored {
		return scored{
			candidate: candidate{el: Element{BackendNodeID: id, Box: anchor.Rect{Width: area, Height: 1}}, strategy: strategy},
			score:     anchor.ScoreBreakdown{Total: total},
		}
	}
	items := []scored{
		mk(1, 0.6, StrategyText, 500),
		mk(2, 0.7, StrategyText, 10),
		mk(3, 0.7, StrategySelector, 10),
		mk(4, 0.7, StrategySelector, 40),
	}
	rank(items)

	var ids []int64
	for _, it := range items {
		ids = append(ids, it.el.BackendNodeID)
	}
	assert.Equal(t, []int64{4, 3, 2, 1}, ids)
}

func TestRankIgnoresInputOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	properties.Property("ranking is independent of candidate order", prop.ForAll(
		func(totals []int, areas []int, seed int64) bool {
			n := min(len(totals), len(areas))
			items := make([]scored, n)
			for i := 0; i < n; i++ {
				items[i] = scored{
					candidate: candidate{
						el:       Element{BackendNodeID: int64(i + 1), Box: anchor.Rect{Width: float64(areas[i]), Height: 1}},
						strategy: chain[i%len(chain)],
					},
					score: anchor.ScoreBreakdown{Total: float64(totals[i]) / 4},
				}
			}
			shuffled := append([]scored(nil), items...)
			rand.New(rand.NewSource(seed)).Shuffle(len(shuffled), func(i, j int) {
				shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
			})

			rank(items)
			rank(shuffled)
			for i := range items {
				if items[i].el.BackendNodeID != shuffled[i].el.BackendNodeID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 4)),
		gen.SliceOf(gen.IntRange(0, 3)),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MinConfidence = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxCandidates = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.Weights.Fuzzy = -0.1
	assert.Error(t, bad.Validate())
}
