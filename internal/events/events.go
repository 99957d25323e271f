// Package events fans action lifecycle notifications out to the fact store
// and the flight recorder.
package events

import (
	"context"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/mangle"

	"go.uber.org/zap"
)

// Fanout forwards every event to each sink in order.
type Fanout []action.Events

func (f Fanout) EmitStarted(ctx context.Context, ev action.StartedEvent) {
	for _, s := range f {
		s.EmitStarted(ctx, ev)
	}
}

func (f Fanout) EmitPrecheck(ctx context.Context, ev action.PrecheckEvent) {
	for _, s := range f {
		s.EmitPrecheck(ctx, ev)
	}
}

func (f Fanout) EmitFinished(ctx context.Context, report action.Report) {
	for _, s := range f {
		s.EmitFinished(ctx, report)
	}
}

// FactStore accepts lifecycle facts.
type FactStore interface {
	AddFacts(ctx context.Context, facts []mangle.Fact) error
}

// FactSink turns lifecycle events into mangle facts.
type FactSink struct {
	store  FactStore
	logger *zap.Logger
	now    func() time.Time
}

func NewFactSink(store FactStore, logger *zap.Logger) *FactSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactSink{store: store, logger: logger.With(zap.String("component", "fact_sink")), now: time.Now}
}

func (s *FactSink) EmitStarted(ctx context.Context, ev action.StartedEvent) {
	s.add(ctx, mangle.Fact{
		Predicate: "action_started",
		Args:      []interface{}{ev.ActionID, string(ev.Kind), ev.Route.SessionID},
		Timestamp: ev.StartedAt,
	})
}

func (s *FactSink) EmitPrecheck(ctx context.Context, ev action.PrecheckEvent) {
	s.add(ctx, mangle.Fact{
		Predicate: "action_precheck",
		Args:      []interface{}{ev.ActionID, ev.Snapshot.Visible, ev.Snapshot.Interactable, ev.Violation},
		Timestamp: s.now(),
	})
}

func (s *FactSink) EmitFinished(ctx context.Context, r action.Report) {
	var facts []mangle.Fact
	if r.SelfHeal.Attempted {
		facts = append(facts, mangle.Fact{
			Predicate: "action_healed",
			Args:      []interface{}{r.ActionID, r.SelfHeal.UsedAnchor != nil, r.SelfHeal.Strategy, r.SelfHeal.Score},
			Timestamp: r.FinishedAt,
		})
	}
	facts = append(facts, mangle.Fact{
		Predicate: "action_finished",
		Args:      []interface{}{r.ActionID, string(r.Kind), r.OK, string(r.ErrorKind()), r.LatencyMS},
		Timestamp: r.FinishedAt,
	})
	s.add(ctx, facts...)
}

func (s *FactSink) add(ctx context.Context, facts ...mangle.Fact) {
	if err := s.store.AddFacts(ctx, facts); err != nil {
		s.logger.Warn("failed to record action facts",
			zap.String("predicate", facts[0].Predicate), zap.Error(err))
	}
}

// Logger is the recorder surface RecorderSink writes to.
type Logger interface {
	Log(eventType, sessionID, actionID string, data interface{})
}

// RecorderSink writes lifecycle events to the flight recorder.
type RecorderSink struct {
	rec Logger
}

func NewRecorderSink(rec Logger) *RecorderSink {
	return &RecorderSink{rec: rec}
}

type startedRecord struct {
	Kind      action.Kind `json:"kind"`
	PageID    string      `json:"page_id,omitempty"`
	FrameID   string      `json:"frame_id,omitempty"`
	Target    string      `json:"target"`
	StartedAt time.Time   `json:"started_at"`
}

type precheckRecord struct {
	Kind      action.Kind             `json:"kind"`
	Attempt   int                     `json:"attempt"`
	Snapshot  action.PrecheckSnapshot `json:"snapshot"`
	Violation string                  `json:"violation,omitempty"`
}

func (s *RecorderSink) EmitStarted(_ context.Context, ev action.StartedEvent) {
	s.rec.Log("action_started", ev.Route.SessionID, ev.ActionID, startedRecord{
		Kind:      ev.Kind,
		PageID:    ev.Route.PageID,
		FrameID:   ev.Route.FrameID,
		Target:    ev.Target.String(),
		StartedAt: ev.StartedAt,
	})
}

func (s *RecorderSink) EmitPrecheck(_ context.Context, ev action.PrecheckEvent) {
	s.rec.Log("action_precheck", "", ev.ActionID, precheckRecord{
		Kind:      ev.Kind,
		Attempt:   ev.Attempt,
		Snapshot:  ev.Snapshot,
		Violation: ev.Violation,
	})
}

func (s *RecorderSink) EmitFinished(_ context.Context, r action.Report) {
	s.rec.Log("action_finished", r.SessionID, r.ActionID, r)
}

var (
	_ action.Events = Fanout(nil)
	_ action.Events = (*FactSink)(nil)
	_ action.Events = (*RecorderSink)(nil)
)
