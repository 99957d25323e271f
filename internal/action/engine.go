package action

import (
	"context"
	"time"

	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/policy"
	"browsernerd-actions/internal/redact"
	"browsernerd-actions/internal/tempo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "browsernerd-actions/internal/action"

// Deps are the collaborators injected into an Engine. Nil ports fall back to
// their no-op implementation.
type Deps struct {
	Protocol   Protocol
	Structural Structural
	Network    Network
	Locator    Locator
	Events     Events
	Metrics    Metrics
	Tempo      Tempo
	Policies   PolicySource

	Logger *zap.Logger
	Tracer trace.Tracer
	// Clock stamps report times. Deadlines always use the wall clock.
	Clock func() time.Time
	// TitleLimit caps stored page titles, in runes.
	TitleLimit int
}

// Engine runs actions. It holds no per-action state and is safe for
// concurrent use; serializing actions on the same frame is the caller's job.
type Engine struct {
	protocol   Protocol
	structural Structural
	network    Network
	locator    Locator
	events     Events
	metrics    Metrics
	tempo      Tempo
	policies   PolicySource

	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time
	titleLimit int
}

// New builds an engine from deps.
func New(deps Deps) *Engine {
	e := &Engine{
		protocol:   deps.Protocol,
		structural: deps.Structural,
		network:    deps.Network,
		locator:    deps.Locator,
		events:     deps.Events,
		metrics:    deps.Metrics,
		tempo:      deps.Tempo,
		policies:   deps.Policies,
		logger:     deps.Logger,
		tracer:     deps.Tracer,
		now:        deps.Clock,
		titleLimit: deps.TitleLimit,
	}
	if e.protocol == nil {
		e.protocol = NoopProtocol{}
	}
	if e.structural == nil {
		e.structural = NoopStructural{}
	}
	if e.network == nil {
		e.network = NoopNetwork{}
	}
	if e.locator == nil {
		e.locator = NoopLocator{}
	}
	if e.events == nil {
		e.events = NoopEvents{}
	}
	if e.metrics == nil {
		e.metrics = NoopMetrics{}
	}
	if e.tempo == nil {
		e.tempo = tempo.Noop{}
	}
	if e.policies == nil {
		e.policies = policy.NewStore(policy.Defaults())
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.With(zap.String("component", "action_engine"))
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.titleLimit <= 0 {
		e.titleLimit = redact.DefaultTitleLimit
	}
	return e
}

// Click clicks target.
func (e *Engine) Click(ctx context.Context, ec ExecCtx, target anchor.Descriptor, p ClickParams, opts Options) (Report, error) {
	return e.execute(ctx, ec, target, p, opts)
}

// Type types text into target.
func (e *Engine) Type(ctx context.Context, ec ExecCtx, target anchor.Descriptor, p TypeParams, opts Options) (Report, error) {
	return e.execute(ctx, ec, target, p, opts)
}

// Select changes the selection of the select element at target.
func (e *Engine) Select(ctx context.Context, ec ExecCtx, target anchor.Descriptor, p SelectParams, opts Options) (Report, error) {
	return e.execute(ctx, ec, target, p, opts)
}

// execute returns either a complete report or, when the request is rejected
// before any port is touched, a top-level *Error and a zero report.
func (e *Engine) execute(ctx context.Context, ec ExecCtx, target anchor.Descriptor, op operation, opts Options) (Report, error) {
	op = withDefaults(op)
	kind := op.kind()
	view := kind.view(e.policies.Snapshot())

	if err := ec.validate(); err != nil {
		return Report{}, rejected(kind, "exec_ctx", "%v", err)
	}
	if err := target.Validate(); err != nil {
		return Report{}, rejected(kind, "anchor", "%v", err)
	}
	if err := gate(view, op); err != nil {
		e.metrics.ObserveAction(kind, false, err.Kind, 0)
		e.logger.Info("action rejected by policy",
			zap.String("action_id", ec.ActionID),
			zap.String("kind", string(kind)),
			zap.String("field", err.Field),
			zap.String("reason", err.Message))
		return Report{}, err
	}
	wait := opts.Wait
	if wait == "" {
		wait = view.Wait()
	}
	switch wait {
	case policy.WaitNone, policy.WaitDOMReady, policy.WaitAuto:
	default:
		return Report{}, rejected(kind, "wait", "unknown wait tier %q", wait)
	}

	// The policy action budget caps whatever deadline the caller set.
	deadline := time.Now().Add(view.Timeouts.Action())
	if !ec.Deadline.IsZero() && ec.Deadline.Before(deadline) {
		deadline = ec.Deadline
	}
	if opts.Timeout > 0 {
		if d := time.Now().Add(opts.Timeout); d.Before(deadline) {
			deadline = d
		}
	}
	runCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	runCtx, span := e.tracer.Start(runCtx, "action."+string(kind), trace.WithAttributes(
		attribute.String("action.id", ec.ActionID),
		attribute.String("action.kind", string(kind)),
		attribute.String("session.id", ec.Route.SessionID),
		attribute.String("action.wait", wait),
	))
	defer span.End()

	r := &run{
		e:        e,
		ctx:      runCtx,
		span:     span,
		logger:   e.logger.With(zap.String("action_id", ec.ActionID), zap.String("kind", string(kind))),
		ec:       ec,
		deadline: deadline,
		kind:     kind,
		op:       op,
		view:     view,
		wait:     wait,
		target:   target,
		started:  e.now(),
	}

	// Events outlive cancellation of the action itself.
	emitCtx := context.WithoutCancel(runCtx)
	e.events.EmitStarted(emitCtx, StartedEvent{
		ActionID:  ec.ActionID,
		Kind:      kind,
		Route:     ec.Route,
		Target:    target,
		StartedAt: r.started,
	})

	r.err = r.pipeline()
	report := r.assemble(e.now(), opts.Priority)

	e.events.EmitFinished(emitCtx, report)
	e.metrics.ObserveAction(kind, report.OK, report.ErrorKind(), time.Duration(report.LatencyMS)*time.Millisecond)
	e.finish(r, report)
	return report, nil
}

func (e *Engine) finish(r *run, report Report) {
	fields := []zap.Field{
		zap.Bool("ok", report.OK),
		zap.Int64("latency_ms", report.LatencyMS),
		zap.Bool("self_heal", report.SelfHeal.Attempted),
	}
	r.span.SetAttributes(
		attribute.Bool("action.ok", report.OK),
		attribute.Bool("action.self_heal", report.SelfHeal.Attempted),
	)
	switch {
	case report.OK:
		r.span.SetStatus(codes.Ok, "")
		r.logger.Debug("action finished", fields...)
	case report.Error.Kind == Cancelled:
		r.span.SetAttributes(attribute.String("action.error_kind", string(Cancelled)))
		r.logger.Info("action cancelled", fields...)
	default:
		r.span.RecordError(report.Error)
		r.span.SetStatus(codes.Error, string(report.Error.Kind))
		r.span.SetAttributes(attribute.String("action.error_kind", string(report.Error.Kind)))
		r.logger.Warn("action failed", append(fields,
			zap.String("error_kind", string(report.Error.Kind)),
			zap.String("field", report.Error.Field),
			zap.Error(report.Error))...)
	}
}
