package browser

import (
	"context"
	"fmt"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/locator"

	"github.com/go-rod/rod"
	"go.uber.org/zap"
)

// Document implements locator.Document by querying the live page.
type Document struct {
	pages  PageSource
	logger *zap.Logger
}

// NewDocument creates a document adapter over pages.
func NewDocument(pages PageSource, logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{pages: pages, logger: logger.With(zap.String("component", "document"))}
}

func (d *Document) Find(ctx context.Context, route action.Route, q locator.Query) ([]locator.Element, error) {
	page, err := pageFor(ctx, d.pages, route)
	if err != nil {
		return nil, err
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	var els rod.Elements
	switch q.Kind {
	case locator.QueryBackend:
		el, err := byBackendID(page, q.BackendNodeID)
		if err != nil {
			if isStale(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("resolve node: %w", err)
		}
		els = rod.Elements{el}
	case locator.QueryCSS:
		els, err = page.Elements(q.Selector)
		if err != nil {
			return nil, fmt.Errorf("query %q: %w", q.Selector, err)
		}
	case locator.QueryARIA:
		els, err = page.ElementsByJS(rod.Eval(jsQueryAria, q.Role, q.Name, q.Exact, limit))
		if err != nil {
			return nil, fmt.Errorf("aria query: %w", err)
		}
	case locator.QueryText:
		els, err = page.ElementsByJS(rod.Eval(jsQueryText, q.Text, q.Exact, limit))
		if err != nil {
			return nil, fmt.Errorf("text query: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown query kind %q", q.Kind)
	}

	out := make([]locator.Element, 0, min(len(els), limit))
	for _, el := range els {
		if len(out) >= limit {
			break
		}
		desc, err := d.describe(el)
		if err != nil {
			// Nodes can disappear between query and describe.
			d.logger.Debug("skipping element", zap.String("kind", q.Kind), zap.Error(err))
			continue
		}
		if desc.Selector == "" && q.Kind == locator.QueryCSS {
			desc.Selector = q.Selector
		}
		out = append(out, desc)
	}
	return out, nil
}

type elementSummary struct {
	Tag      string `json:"tag"`
	Role     string `json:"role"`
	Name     string `json:"name"`
	Text     string `json:"text"`
	Selector string `json:"selector"`
}

func (d *Document) describe(el *rod.Element) (locator.Element, error) {
	id, err := backendID(el)
	if err != nil {
		return locator.Element{}, err
	}
	res, err := el.Eval(jsSummary)
	if err != nil {
		return locator.Element{}, err
	}
	var s elementSummary
	if err := res.Value.Unmarshal(&s); err != nil {
		return locator.Element{}, err
	}
	visible, err := el.Visible()
	if err != nil {
		return locator.Element{}, err
	}
	out := locator.Element{
		BackendNodeID: id,
		Selector:      s.Selector,
		Tag:           s.Tag,
		Role:          s.Role,
		Name:          s.Name,
		Text:          s.Text,
		Visible:       visible,
	}
	if visible {
		if box, err := elementBox(el); err == nil {
			out.Box = box
		}
	}
	return out, nil
}

var _ locator.Document = (*Document)(nil)
