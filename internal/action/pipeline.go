package action

import (
	"context"
	"time"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/policy"
	"browsernerd-actions/internal/redact"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// run is the state of a single action. It is owned by one goroutine except
// during post-signal capture, where each reader writes its own field.
type run struct {
	e        *Engine
	ctx      context.Context
	span     trace.Span
	logger   *zap.Logger
	ec       ExecCtx
	deadline time.Time
	kind     Kind
	op       operation
	view     policy.View
	wait     string
	target   anchor.Descriptor
	started  time.Time

	precheckRuns int
	snapshot     *PrecheckSnapshot
	selfHeal     SelfHeal
	baseline     *Baseline
	netMark      *NetMark
	planned      bool
	pre, post    time.Duration
	perChar      []time.Duration
	value        *ValueDigest
	selection    *SelectionDigest
	incomplete   []string
	signals      *PostSignals
	err          *Error
}

func (r *run) pipeline() *Error {
	violation, err := r.precheck()
	if err != nil {
		return err
	}
	if violation != "" {
		if !r.view.AllowSelfHeal {
			return newError(StructuralConstraint, r.kind, violation, "precheck failed: "+describe(violation), nil)
		}
		if err := r.recover("precheck failed: " + describe(violation)); err != nil {
			return err
		}
	}
	if err := r.checkLength(); err != nil {
		return err
	}
	if err := r.captureBaseline(); err != nil {
		return err
	}

	err = r.dispatch()
	if err != nil && err.Kind == StaleTarget && !r.selfHeal.Attempted && r.view.AllowSelfHeal {
		r.logger.Debug("target went stale during dispatch", zap.Error(err))
		if err := r.recover("dispatch failed: target detached"); err != nil {
			return err
		}
		if err := r.checkLength(); err != nil {
			return err
		}
		err = r.dispatch()
	}
	if err != nil {
		return err
	}
	r.span.AddEvent("dispatched")

	if err := r.settle(); err != nil {
		return err
	}
	return r.capture()
}

// checkpoint is consulted before and after every suspension point.
func (r *run) checkpoint(stage string) *Error {
	if err := r.ctx.Err(); err != nil {
		return contextError(r.kind, stage, err)
	}
	if !time.Now().Before(r.deadline) {
		return newError(Timeout, r.kind, "", "deadline exceeded at "+stage, context.DeadlineExceeded)
	}
	return nil
}

// call runs one port round-trip between two checkpoints.
func (r *run) call(ctx context.Context, stage string, fn func(context.Context) error) *Error {
	if err := r.checkpoint(stage); err != nil {
		return err
	}
	err := fn(ctx)
	if cerr := r.checkpoint(stage); cerr != nil {
		return cerr
	}
	if err != nil {
		return classify(r.ctx, r.kind, stage, err)
	}
	return nil
}

func (r *run) precheck() (string, *Error) {
	r.precheckRuns++
	ctx, cancel := context.WithTimeout(r.ctx, r.view.Timeouts.Precheck())
	defer cancel()

	st, route, target := r.e.structural, r.ec.Route, r.target
	var snap PrecheckSnapshot
	err := r.call(ctx, "precheck.visible", func(ctx context.Context) (err error) {
		snap.Visible, err = st.Visible(ctx, route, target)
		return err
	})
	if err == nil {
		err = r.call(ctx, "precheck.interactable", func(ctx context.Context) (err error) {
			snap.Interactable, err = st.Interactable(ctx, route, target)
			return err
		})
	}
	if err == nil {
		err = r.call(ctx, "precheck.enabled", func(ctx context.Context) (err error) {
			snap.Enabled, err = st.Enabled(ctx, route, target)
			return err
		})
	}
	if err == nil && r.kind != Click {
		err = r.call(ctx, "precheck.field", func(ctx context.Context) error {
			info, err := st.Field(ctx, route, target)
			if err != nil {
				return err
			}
			readonly := info.Readonly
			snap.Readonly = &readonly
			snap.MaxLength = info.MaxLength
			snap.PasswordLike = info.PasswordLike
			return nil
		})
	}
	if err != nil {
		if err.Kind != StaleTarget {
			return "", err
		}
		snap = PrecheckSnapshot{Detached: true}
	}

	r.snapshot = &snap
	violation := snap.violation(r.kind)
	r.e.events.EmitPrecheck(context.WithoutCancel(r.ctx), PrecheckEvent{
		ActionID:  r.ec.ActionID,
		Kind:      r.kind,
		Attempt:   r.precheckRuns,
		Snapshot:  snap,
		Violation: violation,
	})
	r.span.AddEvent("precheck", trace.WithAttributes(
		attribute.Int("attempt", r.precheckRuns),
		attribute.String("violation", violation),
	))
	if violation != "" {
		r.e.metrics.PrecheckFailed(r.kind, violation)
		r.logger.Debug("precheck failed",
			zap.Int("attempt", r.precheckRuns),
			zap.String("field", violation),
			zap.Stringer("target", r.target))
	}
	return violation, nil
}

// recover spends the action's single self-heal and re-checks the replacement.
func (r *run) recover(reason string) *Error {
	if err := r.heal(reason); err != nil {
		return err
	}
	violation, err := r.precheck()
	if err != nil {
		return err
	}
	if violation != "" {
		return newError(SelfHealExhausted, r.kind, violation, "healed target failed precheck: "+describe(violation), nil)
	}
	return nil
}

func (r *run) heal(reason string) *Error {
	if r.selfHeal.Attempted {
		return newError(SelfHealExhausted, r.kind, "", "self-heal already used", nil)
	}
	if err := r.checkpoint("heal"); err != nil {
		return err
	}
	r.selfHeal.Attempted = true
	r.selfHeal.Reason = reason

	var out HealOutcome
	err := r.call(r.ctx, "heal", func(ctx context.Context) (err error) {
		out, err = r.e.locator.TryOnce(ctx, r.ec.Route, r.target, reason)
		return err
	})
	success := err == nil && out.UsedAnchor != nil
	r.e.metrics.SelfHeal(r.kind, success)
	r.span.AddEvent("self_heal", trace.WithAttributes(
		attribute.Bool("success", success),
		attribute.String("strategy", out.Strategy),
	))

	if err != nil {
		if err.Kind == Cancelled || err.Kind == Timeout {
			return err
		}
		return newError(SelfHealExhausted, r.kind, "", "resolution failed", err)
	}
	if out.UsedAnchor == nil {
		return newError(SelfHealExhausted, r.kind, "", "no healing candidate", nil)
	}

	used := *out.UsedAnchor
	r.target = used
	r.selfHeal.UsedAnchor = &used
	r.selfHeal.Strategy = out.Strategy
	r.selfHeal.Score = out.Score.Total
	r.selfHeal.Reasoning = out.Score.Summarize()
	r.logger.Debug("self-heal resolved replacement",
		zap.Stringer("target", used),
		zap.String("strategy", out.Strategy),
		zap.String("reasoning", r.selfHeal.Reasoning))
	return nil
}

// checkLength enforces the field's maxlength, which no replacement target can fix.
func (r *run) checkLength() *Error {
	p, ok := r.op.(TypeParams)
	if !ok || r.snapshot == nil || r.snapshot.MaxLength <= 0 {
		return nil
	}
	if n := len([]rune(p.Text)); n > r.snapshot.MaxLength {
		return newError(StructuralConstraint, r.kind, "maxlength", "text is longer than the field allows", nil)
	}
	return nil
}

// captureBaseline records the state post-signals are diffed against. A
// failed read only leaves that digest empty.
func (r *run) captureBaseline() *Error {
	route := r.ec.Route
	var base Baseline
	err := r.call(r.ctx, "baseline.dom", func(ctx context.Context) (err error) {
		base, err = r.e.structural.Baseline(ctx, route)
		return err
	})
	if err != nil {
		if fatal(err) {
			return err
		}
		r.incomplete = append(r.incomplete, "dom")
		r.logger.Debug("dom baseline unavailable", zap.Error(err))
	} else {
		r.baseline = &base
	}

	var mark NetMark
	err = r.call(r.ctx, "baseline.network", func(ctx context.Context) (err error) {
		mark, err = r.e.network.Mark(ctx, route)
		return err
	})
	if err != nil {
		if fatal(err) {
			return err
		}
		r.incomplete = append(r.incomplete, "network")
		r.logger.Debug("network mark unavailable", zap.Error(err))
	} else {
		r.netMark = &mark
	}
	return nil
}

// settle applies the wait tier. Running out of the settle budget is not a
// failure; running out of the action deadline is.
func (r *run) settle() *Error {
	if r.wait == policy.WaitNone {
		return nil
	}
	if err := r.checkpoint("wait"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.view.Timeouts.DOMReady())
	err := r.e.protocol.WaitReady(ctx, r.ec.Route, r.wait)
	cancel()
	if cerr := r.checkpoint("wait"); cerr != nil {
		return cerr
	}
	if err != nil {
		r.logger.Debug("page did not settle", zap.String("tier", r.wait), zap.Error(err))
	}
	return nil
}

// capture gathers the post-signals. The reads are independent and run
// concurrently; each goroutine writes only its own variables.
func (r *run) capture() *Error {
	if err := r.checkpoint("capture"); err != nil {
		return err
	}
	route := r.ec.Route
	signals := &PostSignals{Value: r.value, Selection: r.selection}

	var (
		g                errgroup.Group
		url, title       string
		domErr, netErr   error
		urlErr, titleErr error
	)
	if r.baseline != nil {
		g.Go(func() error {
			signals.DOM, domErr = r.e.structural.Diff(r.ctx, route, *r.baseline)
			return nil
		})
	}
	if r.netMark != nil {
		g.Go(func() error {
			signals.Network, netErr = r.e.network.Digest(r.ctx, route, *r.netMark)
			return nil
		})
	}
	g.Go(func() error {
		url, urlErr = r.e.protocol.CurrentURL(r.ctx, route)
		return nil
	})
	g.Go(func() error {
		title, titleErr = r.e.protocol.CurrentTitle(r.ctx, route)
		return nil
	})
	_ = g.Wait()

	if err := r.checkpoint("capture"); err != nil {
		return err
	}

	incomplete := append([]string(nil), r.incomplete...)
	for _, read := range []struct {
		name string
		err  error
	}{{"dom", domErr}, {"network", netErr}, {"url", urlErr}, {"title", titleErr}} {
		if read.err != nil {
			incomplete = append(incomplete, read.name)
			r.logger.Debug("post-signal read failed", zap.String("signal", read.name), zap.Error(read.err))
		}
	}
	if domErr != nil {
		signals.DOM = DOMDigest{}
	}
	if netErr != nil {
		signals.Network = NetDigest{}
	}
	if urlErr == nil {
		signals.URL = redact.URL(url)
	}
	if titleErr == nil {
		signals.Title = redact.Title(title, r.e.titleLimit)
	}
	signals.Incomplete = incomplete
	r.signals = signals
	return nil
}

func (r *run) assemble(finished time.Time, priority int) Report {
	return Report{
		ActionID:    r.ec.ActionID,
		Kind:        r.kind,
		SessionID:   r.ec.Route.SessionID,
		OK:          r.err == nil,
		StartedAt:   r.started,
		FinishedAt:  finished,
		LatencyMS:   latencyMS(r.started, finished),
		Priority:    priority,
		Precheck:    r.snapshot,
		PostSignals: r.signals,
		SelfHeal:    r.selfHeal,
		Error:       r.err,
	}
}

func fatal(err *Error) bool {
	return err.Kind == Cancelled || err.Kind == Timeout
}

func describe(violation string) string {
	switch violation {
	case "attached":
		return "target detached"
	case "readonly":
		return "read-only"
	default:
		return "not " + violation
	}
}
