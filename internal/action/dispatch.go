package action

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/redact"
	"browsernerd-actions/internal/tempo"

	"go.uber.org/zap"
)

func (r *run) dispatch() *Error {
	r.plan()
	switch p := r.op.(type) {
	case ClickParams:
		return r.dispatchClick(p)
	case TypeParams:
		return r.dispatchType(p)
	case SelectParams:
		return r.dispatchSelect(p)
	}
	return newError(PolicyRejected, r.kind, "", "unsupported operation", nil)
}

// plan prepares the tempo plan once and fits it into half of the remaining
// time so pacing never starves the operation itself.
func (r *run) plan() {
	if r.planned {
		return
	}
	r.planned = true
	req := tempo.Request{SessionID: r.ec.Route.SessionID, Op: string(r.kind), Target: r.target}
	if p, ok := r.op.(TypeParams); ok {
		req.Mode = string(p.Mode)
		req.Text = p.Text
	}
	plan := r.e.tempo.Prepare(req).Truncate(time.Until(r.deadline) / 2)
	r.pre, r.post, r.perChar = plan.Pre, plan.Post, plan.PerChar
}

// pace applies an advisory delay. Only cancellation or the deadline can turn
// it into a failure.
func (r *run) pace(stage string, d time.Duration) *Error {
	if d <= 0 {
		return nil
	}
	err := r.e.tempo.Apply(r.ctx, d)
	if cerr := r.checkpoint(stage); cerr != nil {
		return cerr
	}
	if err != nil {
		r.logger.Debug("tempo delay skipped", zap.String("stage", stage), zap.Error(err))
	}
	return nil
}

func (r *run) focusTarget() *Error {
	proto, route, target := r.e.protocol, r.ec.Route, r.target
	if err := r.call(r.ctx, "scroll", func(ctx context.Context) error {
		return proto.ScrollIntoView(ctx, route, target)
	}); err != nil {
		return err
	}
	return r.call(r.ctx, "focus", func(ctx context.Context) error {
		return proto.Focus(ctx, route, target)
	})
}

func (r *run) dispatchClick(p ClickParams) *Error {
	if err := r.focusTarget(); err != nil {
		return err
	}
	proto, route, target := r.e.protocol, r.ec.Route, r.target

	var box anchor.Rect
	if err := r.call(r.ctx, "geometry", func(ctx context.Context) (err error) {
		box, err = proto.Geometry(ctx, route, target)
		return err
	}); err != nil {
		return err
	}
	if box.Area() == 0 {
		return newError(StructuralConstraint, Click, "geometry", "target has no visible box", nil)
	}
	x, y := box.Center()
	if p.Offset != nil {
		x += p.Offset.X
		y += p.Offset.Y
	}

	if err := r.pace("click.pre", r.pre); err != nil {
		return err
	}
	in := MouseInput{X: x, Y: y, Button: p.Button, Modifiers: p.Modifiers, Count: p.ClickCount}
	if err := r.call(r.ctx, "click", func(ctx context.Context) error {
		return proto.DispatchClick(ctx, route, in)
	}); err != nil {
		return err
	}
	return r.pace("click.post", r.post)
}

func (r *run) dispatchType(p TypeParams) *Error {
	if err := r.focusTarget(); err != nil {
		return err
	}
	proto, route, target := r.e.protocol, r.ec.Route, r.target

	var before string
	if err := r.call(r.ctx, "type.read", func(ctx context.Context) (err error) {
		before, err = proto.ReadValue(ctx, route, target)
		return err
	}); err != nil {
		return err
	}
	if p.Clear.Mode != ClearNone {
		if err := r.call(r.ctx, "type.clear", func(ctx context.Context) error {
			return proto.ClearField(ctx, route, target, p.Clear)
		}); err != nil {
			return err
		}
	}
	if err := r.pace("type.pre", r.pre); err != nil {
		return err
	}

	if p.Mode.fast() {
		paste := p.Mode == InputPaste
		if err := r.call(r.ctx, "type.set", func(ctx context.Context) error {
			return proto.SetValue(ctx, route, target, p.Text, paste)
		}); err != nil {
			return err
		}
	} else {
		for i, ch := range []rune(p.Text) {
			if p.Mode == InputNatural && i < len(r.perChar) {
				if err := r.pace("type.char", r.perChar[i]); err != nil {
					return err
				}
			}
			if err := r.call(r.ctx, "type.key", func(ctx context.Context) error {
				return proto.TypeRune(ctx, route, ch)
			}); err != nil {
				return err
			}
		}
	}
	if p.Submit {
		if err := r.call(r.ctx, "type.submit", func(ctx context.Context) error {
			return proto.PressEnter(ctx, route)
		}); err != nil {
			return err
		}
	}
	if err := r.pace("type.post", r.post); err != nil {
		return err
	}

	var after string
	if err := r.call(r.ctx, "type.verify", func(ctx context.Context) (err error) {
		after, err = proto.ReadValue(ctx, route, target)
		return err
	}); err != nil {
		if fatal(err) {
			return err
		}
		r.incomplete = append(r.incomplete, "value")
		r.logger.Debug("could not read field after typing", zap.Error(err))
		return nil
	}

	digest := &ValueDigest{
		Changed: before != after,
		OldLen:  utf8.RuneCountInString(before),
		NewLen:  utf8.RuneCountInString(after),
	}
	if r.snapshot == nil || !r.snapshot.PasswordLike {
		digest.HashAfter = redact.Hash(after)
	}
	r.value = digest
	return nil
}

func (r *run) dispatchSelect(p SelectParams) *Error {
	if err := r.focusTarget(); err != nil {
		return err
	}
	proto, route, target := r.e.protocol, r.ec.Route, r.target

	var options []SelectOptionInfo
	if err := r.call(r.ctx, "select.options", func(ctx context.Context) (err error) {
		options, err = proto.Options(ctx, route, target)
		return err
	}); err != nil {
		return err
	}
	requested, merr := matchOptions(options, p)
	if merr != nil {
		return merr
	}
	current := selectedIndices(options)
	desired := combineSelection(current, requested, p.Mode)

	if err := r.pace("select.pre", r.pre); err != nil {
		return err
	}
	if err := r.call(r.ctx, "select.apply", func(ctx context.Context) error {
		return proto.ApplySelection(ctx, route, target, desired)
	}); err != nil {
		return err
	}
	if err := r.pace("select.post", r.post); err != nil {
		return err
	}

	var after []SelectOptionInfo
	if err := r.call(r.ctx, "select.verify", func(ctx context.Context) (err error) {
		after, err = proto.Options(ctx, route, target)
		return err
	}); err != nil {
		if fatal(err) {
			return err
		}
		r.incomplete = append(r.incomplete, "selection")
		r.logger.Debug("could not read selection after apply", zap.Error(err))
		return nil
	}

	selected := selectedIndices(after)
	if p.Mode != SelectToggle && (p.Match == MatchValue || p.Match == MatchIndex) {
		for _, idx := range requested {
			if !slices.Contains(selected, idx) {
				return newError(StructuralConstraint, SelectOption, "selection", "selection not applied", nil)
			}
		}
	}
	r.selection = &SelectionDigest{
		Changed:         !slices.Equal(current, selected),
		SelectedCount:   len(selected),
		SelectedIndices: selected,
		SelectedHash:    redact.HashIndices(selected),
	}
	return nil
}

// matchOptions resolves the requested items to option indices, in request order.
func matchOptions(options []SelectOptionInfo, p SelectParams) ([]int, *Error) {
	notFound := func(item string) *Error {
		return newError(StructuralConstraint, SelectOption, "option", "no option matches "+strconv.Quote(item), nil)
	}

	if p.Match == MatchAnchor {
		opt := p.Option
		for _, o := range options {
			if opt.BackendNodeID != 0 && o.BackendNodeID == opt.BackendNodeID {
				return []int{o.Index}, nil
			}
		}
		for _, o := range options {
			label := strings.TrimSpace(o.Label)
			if label != "" && (label == strings.TrimSpace(opt.Text) || label == strings.TrimSpace(opt.Name)) {
				return []int{o.Index}, nil
			}
		}
		return nil, notFound(opt.String())
	}

	out := make([]int, 0, len(p.Items))
	for _, item := range p.Items {
		idx := -1
		switch p.Match {
		case MatchValue:
			for _, o := range options {
				if o.Value == item {
					idx = o.Index
					break
				}
			}
		case MatchLabel:
			want := strings.TrimSpace(item)
			for _, o := range options {
				if strings.TrimSpace(o.Label) == want {
					idx = o.Index
					break
				}
			}
			if idx < 0 {
				for _, o := range options {
					if strings.EqualFold(strings.TrimSpace(o.Label), want) {
						idx = o.Index
						break
					}
				}
			}
		case MatchIndex:
			n, _ := strconv.Atoi(item)
			for _, o := range options {
				if o.Index == n {
					idx = o.Index
					break
				}
			}
		}
		if idx < 0 {
			return nil, notFound(item)
		}
		if !slices.Contains(out, idx) {
			out = append(out, idx)
		}
	}
	return out, nil
}

func selectedIndices(options []SelectOptionInfo) []int {
	out := []int{}
	for _, o := range options {
		if o.Selected {
			out = append(out, o.Index)
		}
	}
	slices.Sort(out)
	return out
}

// combineSelection computes the full selection after applying requested in mode.
func combineSelection(current, requested []int, mode SelectMode) []int {
	var out []int
	switch mode {
	case SelectSingle:
		out = []int{requested[0]}
	case SelectToggle:
		for _, idx := range current {
			if !slices.Contains(requested, idx) {
				out = append(out, idx)
			}
		}
		for _, idx := range requested {
			if !slices.Contains(current, idx) {
				out = append(out, idx)
			}
		}
	default:
		out = append(out, requested...)
	}
	slices.Sort(out)
	return slices.Compact(out)
}
