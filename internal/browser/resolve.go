package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"
	"github.com/go-rod/rod/lib/proto"
)

// PageSource hands out the page bound to a session.
type PageSource interface {
	Page(sessionID string) (*rod.Page, bool)
}

// staleMessages are CDP error texts for nodes that left the document.
var staleMessages = []string{
	"no node with given id",
	"could not find node with given id",
	"node is detached",
	"cannot find context with specified id",
	"node with given id does not belong to the document",
}

// isStale reports whether err means the addressed node is gone.
func isStale(err error) bool {
	if err == nil {
		return false
	}
	var notFound *rod.ObjectNotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) {
		return matchesStale(cdpErr.Message)
	}
	return matchesStale(err.Error())
}

func matchesStale(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range staleMessages {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// wrap tags stale errors with action.ErrStaleTarget and annotates the rest.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if isStale(err) {
		return fmt.Errorf("%s: %w: %v", op, action.ErrStaleTarget, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// pageFor returns the session page bound to ctx.
func pageFor(ctx context.Context, pages PageSource, route action.Route) (*rod.Page, error) {
	page, ok := pages.Page(route.SessionID)
	if !ok {
		return nil, fmt.Errorf("session %s has no live page", route.SessionID)
	}
	return page.Context(ctx), nil
}

// element resolves target: the backend handle when present, otherwise the
// selector. A handle or selector that no longer matches is stale, and so is an
// anchor carrying only role, name or text, which only the locator can resolve.
func element(ctx context.Context, pages PageSource, route action.Route, target anchor.Descriptor) (*rod.Page, *rod.Element, error) {
	if !target.HasHandle() && target.Selector == "" {
		return nil, nil, fmt.Errorf("anchor has neither a backend handle nor a selector: %w", action.ErrStaleTarget)
	}
	page, err := pageFor(ctx, pages, route)
	if err != nil {
		return nil, nil, err
	}
	if target.HasHandle() {
		el, err := byBackendID(page, target.BackendNodeID)
		if err != nil {
			return nil, nil, wrap("resolve node", err)
		}
		return page, el, nil
	}
	has, el, err := page.Has(target.Selector)
	if err != nil {
		return nil, nil, wrap("query selector", err)
	}
	if !has {
		return nil, nil, fmt.Errorf("selector %q: %w", target.Selector, action.ErrStaleTarget)
	}
	return page, el, nil
}

func byBackendID(page *rod.Page, id int64) (*rod.Element, error) {
	obj, err := proto.DOMResolveNode{BackendNodeID: proto.DOMBackendNodeID(id)}.Call(page)
	if err != nil {
		return nil, err
	}
	return page.ElementFromObject(obj.Object)
}

// backendID returns the element's backend node id.
func backendID(el *rod.Element) (int64, error) {
	node, err := el.Describe(0, false)
	if err != nil {
		return 0, err
	}
	return int64(node.BackendNodeID), nil
}
