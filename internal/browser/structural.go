package browser

import (
	"context"
	"errors"
	"fmt"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
)

// Structural implements action.Structural with Rod element checks and a
// MutationObserver installed per baseline.
type Structural struct {
	pages PageSource
}

// NewStructural creates a structural adapter over pages.
func NewStructural(pages PageSource) *Structural {
	return &Structural{pages: pages}
}

func (s *Structural) Visible(ctx context.Context, route action.Route, target anchor.Descriptor) (bool, error) {
	_, el, err := element(ctx, s.pages, route, target)
	if err != nil {
		return false, err
	}
	ok, err := el.Visible()
	return ok, wrap("visible", err)
}

// Interactable reports whether a pointer event at the element's center would
// reach it. Covered, pointer-events:none and shapeless elements are not.
func (s *Structural) Interactable(ctx context.Context, route action.Route, target anchor.Descriptor) (bool, error) {
	_, el, err := element(ctx, s.pages, route, target)
	if err != nil {
		return false, err
	}
	_, err = el.Interactable()
	if err == nil {
		return true, nil
	}
	if notInteractable(err) {
		return false, nil
	}
	return false, wrap("interactable", err)
}

func notInteractable(err error) bool {
	var (
		covered   *rod.CoveredError
		noPointer *rod.NoPointerEventsError
		invisible *rod.InvisibleShapeError
		generic   *rod.NotInteractableError
	)
	return errors.As(err, &covered) || errors.As(err, &noPointer) ||
		errors.As(err, &invisible) || errors.As(err, &generic)
}

func (s *Structural) Enabled(ctx context.Context, route action.Route, target anchor.Descriptor) (*bool, error) {
	_, el, err := element(ctx, s.pages, route, target)
	if err != nil {
		return nil, err
	}
	res, err := el.Eval(jsEnabled)
	if err != nil {
		return nil, wrap("enabled", err)
	}
	if res.Value.Nil() {
		return nil, nil
	}
	enabled := res.Value.Bool()
	return &enabled, nil
}

type fieldState struct {
	Readonly     bool `json:"readonly"`
	MaxLength    int  `json:"maxLength"`
	PasswordLike bool `json:"passwordLike"`
}

func (s *Structural) Field(ctx context.Context, route action.Route, target anchor.Descriptor) (action.FieldInfo, error) {
	_, el, err := element(ctx, s.pages, route, target)
	if err != nil {
		return action.FieldInfo{}, err
	}
	res, err := el.Eval(jsField)
	if err != nil {
		return action.FieldInfo{}, wrap("field", err)
	}
	var st fieldState
	if err := res.Value.Unmarshal(&st); err != nil {
		return action.FieldInfo{}, fmt.Errorf("decode field state: %w", err)
	}
	return action.FieldInfo{Readonly: st.Readonly, MaxLength: st.MaxLength, PasswordLike: st.PasswordLike}, nil
}

// Baseline installs an observer under a fresh token and records the focus.
func (s *Structural) Baseline(ctx context.Context, route action.Route) (action.Baseline, error) {
	page, err := pageFor(ctx, s.pages, route)
	if err != nil {
		return action.Baseline{}, err
	}
	token := uuid.NewString()
	res, err := page.Eval(jsObserve, token)
	if err != nil {
		return action.Baseline{}, fmt.Errorf("install observer: %w", err)
	}
	return action.Baseline{
		NodeCount:   res.Value.Int(),
		FocusedNode: focusedNode(page),
		Token:       token,
	}, nil
}

// Diff collects the observer installed by since. When the observer was lost,
// typically to a navigation, the node count delta stands in.
func (s *Structural) Diff(ctx context.Context, route action.Route, since action.Baseline) (action.DOMDigest, error) {
	page, err := pageFor(ctx, s.pages, route)
	if err != nil {
		return action.DOMDigest{}, err
	}
	var d action.DOMDigest
	res, err := page.Eval(jsCollect, since.Token)
	if err != nil {
		return d, fmt.Errorf("collect observer: %w", err)
	}
	changed := res.Value.Int()
	if changed < 0 {
		count, err := page.Eval(jsNodeCount)
		if err != nil {
			return d, fmt.Errorf("count nodes: %w", err)
		}
		changed = count.Value.Int() - since.NodeCount
		if changed < 0 {
			changed = -changed
		}
	}
	d.ChangedNodes = changed
	d.FocusChanged = focusedNode(page) != since.FocusedNode
	return d, nil
}

// focusedNode returns the backend id of document.activeElement, or 0.
func focusedNode(page *rod.Page) int64 {
	obj, err := page.Evaluate(rod.Eval(jsActiveElement).ByObject())
	if err != nil || obj == nil || obj.ObjectID == "" {
		return 0
	}
	node, err := proto.DOMDescribeNode{ObjectID: obj.ObjectID}.Call(page)
	if err != nil || node.Node == nil {
		return 0
	}
	return int64(node.Node.BackendNodeID)
}

var _ action.Structural = (*Structural)(nil)
