package locator

import (
	"context"
	"strings"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"

	"go.uber.org/zap"
)

// Strategy names, in priority order.
const (
	StrategySelector      = "selector"
	StrategyAccessibility = "accessibility"
	StrategyText          = "text"
)

// chain is the fixed strategy order. Earlier strategies win ties.
var chain = []string{StrategySelector, StrategyAccessibility, StrategyText}

func strategyRank(name string) int {
	for i, s := range chain {
		if s == name {
			return i
		}
	}
	return len(chain)
}

// candidate is an element found by a strategy, before scoring.
type candidate struct {
	el       Element
	strategy string
	// fuzzy marks matches found through selector keywords rather than literal text.
	fuzzy bool
}

var htmlTags = map[string]bool{
	"div": true, "span": true, "button": true, "input": true, "a": true, "p": true,
	"h1": true, "h2": true, "h3": true, "ul": true, "li": true, "form": true,
}

var selectorPunct = strings.NewReplacer(
	"#", " ", ".", " ", ">", " ", "+", " ", "~", " ",
	"[", " ", "]", " ", "-", " ", "_", " ",
)

// keywords pulls the human words out of a CSS selector: "#submit-order" gives
// [submit order]. Tag names and words of two letters or fewer are dropped.
func keywords(selector string) []string {
	var out []string
	for _, word := range strings.Fields(selectorPunct.Replace(selector)) {
		lower := strings.ToLower(word)
		if len(word) > 2 && !htmlTags[lower] {
			out = append(out, lower)
		}
	}
	return out
}

// inferRole guesses an ARIA role from selector naming conventions.
func inferRole(selector string) string {
	lower := strings.ToLower(selector)
	switch {
	case strings.Contains(lower, "btn"), strings.Contains(lower, "button"):
		return "button"
	case strings.Contains(lower, "link"):
		return "link"
	case strings.Contains(lower, "menu"):
		return "menuitem"
	case strings.Contains(lower, "input"), strings.Contains(lower, "field"):
		return "textbox"
	}
	return ""
}

var textRoles = []string{"button", "link", "menuitem", "textbox"}

// finder runs the strategy chain for one resolution.
type finder struct {
	doc    Document
	route  action.Route
	limit  int
	logger *zap.Logger
}

// run returns the candidates of the first strategy that produced any.
func (f *finder) run(ctx context.Context, primary anchor.Descriptor) ([]candidate, error) {
	for _, name := range chain {
		var (
			found []candidate
			err   error
		)
		switch name {
		case StrategySelector:
			found, err = f.bySelector(ctx, primary)
		case StrategyAccessibility:
			found, err = f.byAccessibility(ctx, primary)
		case StrategyText:
			found, err = f.byText(ctx, primary)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Debug("strategy failed", zap.String("strategy", name), zap.Error(err))
			continue
		}
		if len(found) > 0 {
			f.logger.Debug("strategy produced candidates",
				zap.String("strategy", name),
				zap.Int("count", len(found)))
			return found, nil
		}
	}
	return nil, nil
}

func (f *finder) find(ctx context.Context, q Query) ([]Element, error) {
	q.Limit = f.limit
	return f.doc.Find(ctx, f.route, q)
}

func (f *finder) bySelector(ctx context.Context, primary anchor.Descriptor) ([]candidate, error) {
	var q Query
	switch {
	case primary.Selector != "":
		q = Query{Kind: QueryCSS, Selector: primary.Selector}
	case primary.HasHandle():
		q = Query{Kind: QueryBackend, BackendNodeID: primary.BackendNodeID}
	default:
		return nil, nil
	}
	els, err := f.find(ctx, q)
	if err != nil {
		return nil, err
	}
	return collect(nil, els, StrategySelector, false), nil
}

func (f *finder) byAccessibility(ctx context.Context, primary anchor.Descriptor) ([]candidate, error) {
	role := primary.Role
	if role == "" {
		role = inferRole(primary.Selector)
	}

	var queries []Query
	switch {
	case role != "" && strings.TrimSpace(primary.Name) != "":
		queries = append(queries, Query{Kind: QueryARIA, Role: role, Name: strings.TrimSpace(primary.Name)})
	case role != "" && primary.Selector != "":
		for _, kw := range keywords(primary.Selector) {
			queries = append(queries, Query{Kind: QueryARIA, Role: role, Name: kw})
		}
	case strings.TrimSpace(primary.Text) != "":
		for _, r := range textRoles {
			queries = append(queries, Query{Kind: QueryARIA, Role: r, Name: strings.TrimSpace(primary.Text)})
		}
	}
	return f.gather(ctx, queries, StrategyAccessibility, false)
}

func (f *finder) byText(ctx context.Context, primary anchor.Descriptor) ([]candidate, error) {
	literal := strings.TrimSpace(primary.Text)
	if literal == "" {
		literal = strings.TrimSpace(primary.Name)
	}
	if literal != "" {
		found, err := f.gather(ctx, []Query{{Kind: QueryText, Text: literal}}, StrategyText, false)
		if err != nil || len(found) > 0 {
			return found, err
		}
	}

	var queries []Query
	for _, kw := range keywords(primary.Selector) {
		queries = append(queries, Query{Kind: QueryText, Text: kw})
	}
	return f.gather(ctx, queries, StrategyText, true)
}

// gather runs queries in order and merges the results. A failing query is
// skipped; an error is returned only when every query failed.
func (f *finder) gather(ctx context.Context, queries []Query, strategy string, fuzzy bool) ([]candidate, error) {
	var (
		out     []candidate
		lastErr error
		failed  int
	)
	for _, q := range queries {
		els, err := f.find(ctx, q)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			failed++
			continue
		}
		out = collect(out, els, strategy, fuzzy)
	}
	if len(queries) > 0 && failed == len(queries) {
		return nil, lastErr
	}
	return out, nil
}

// collect appends elements not already present, deduplicated by backend id.
func collect(out []candidate, els []Element, strategy string, fuzzy bool) []candidate {
	for _, el := range els {
		dup := false
		for _, c := range out {
			if el.BackendNodeID != 0 && c.el.BackendNodeID == el.BackendNodeID {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, candidate{el: el, strategy: strategy, fuzzy: fuzzy})
		}
	}
	return out
}
