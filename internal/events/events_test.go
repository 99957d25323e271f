package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/mangle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logLine struct {
	Type, SessionID, ActionID string
	Data                      interface{}
}

type fakeRecorder struct {
	mu    sync.Mutex
	lines []logLine
}

func (f *fakeRecorder) Log(eventType, sessionID, actionID string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, logLine{eventType, sessionID, actionID, data})
}

type failingStore struct{ calls int }

func (f *failingStore) AddFacts(context.Context, []mangle.Fact) error {
	f.calls++
	return errors.New("store down")
}

func healedReport() action.Report {
	used := anchor.Descriptor{Selector: "#buy"}
	started := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	return action.Report{
		ActionID:   "a1",
		Kind:       action.Click,
		SessionID:  "s1",
		OK:         true,
		StartedAt:  started,
		FinishedAt: started.Add(120 * time.Millisecond),
		LatencyMS:  120,
		SelfHeal: action.SelfHeal{
			Attempted:  true,
			Reason:     "precheck failed: not visible",
			UsedAnchor: &used,
			Strategy:   "text",
			Score:      0.82,
		},
	}
}

func TestFactSinkDerivesRecoveredAction(t *testing.T) {
	engine, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 100}, nil)
	require.NoError(t, err)
	sink := NewFactSink(engine, nil)
	ctx := context.Background()

	sink.EmitStarted(ctx, action.StartedEvent{
		ActionID:  "a1",
		Kind:      action.Click,
		Route:     action.Route{SessionID: "s1"},
		StartedAt: time.Now(),
	})
	sink.EmitPrecheck(ctx, action.PrecheckEvent{
		ActionID:  "a1",
		Kind:      action.Click,
		Attempt:   1,
		Snapshot:  action.PrecheckSnapshot{Visible: false},
		Violation: "visible",
	})
	sink.EmitFinished(ctx, healedReport())

	healed := engine.FactsByPredicate("action_healed")
	require.Len(t, healed, 1)
	assert.Equal(t, []interface{}{"a1", true, "text", 0.82}, healed[0].Args)

	recovered, err := engine.Query(ctx, "recovered_action(A).")
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, "a1", recovered[0]["A"])

	prechecks := engine.FactsByPredicate("action_precheck")
	require.Len(t, prechecks, 1)
	assert.Equal(t, "visible", prechecks[0].Args[3])
}

func TestFactSinkRecordsFailure(t *testing.T) {
	engine, err := mangle.NewEngine(config.MangleConfig{Enable: true, FactBufferLimit: 100}, nil)
	require.NoError(t, err)
	sink := NewFactSink(engine, nil)
	ctx := context.Background()

	sink.EmitStarted(ctx, action.StartedEvent{ActionID: "a2", Kind: action.TypeText, Route: action.Route{SessionID: "s9"}})
	sink.EmitFinished(ctx, action.Report{
		ActionID: "a2",
		Kind:     action.TypeText,
		Error:    &action.Error{Kind: action.StaleTarget},
	})

	assert.Empty(t, engine.FactsByPredicate("action_healed"))
	failed, err := engine.Query(ctx, "failed_action(A, K).")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "stale_target", failed[0]["K"])

	sessions, err := engine.Evaluate(ctx, "session_with_failure")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s9", sessions[0].Args[0])
}

func TestFactSinkSwallowsStoreErrors(t *testing.T) {
	store := &failingStore{}
	sink := NewFactSink(store, nil)
	assert.NotPanics(t, func() {
		sink.EmitStarted(context.Background(), action.StartedEvent{ActionID: "a1"})
		sink.EmitFinished(context.Background(), healedReport())
	})
	assert.Equal(t, 2, store.calls)
}

func TestRecorderSinkWritesEachStage(t *testing.T) {
	rec := &fakeRecorder{}
	sink := NewRecorderSink(rec)
	ctx := context.Background()

	sink.EmitStarted(ctx, action.StartedEvent{
		ActionID: "a1",
		Kind:     action.Click,
		Route:    action.Route{SessionID: "s1", FrameID: "main"},
		Target:   anchor.Descriptor{Selector: "#buy"},
	})
	sink.EmitPrecheck(ctx, action.PrecheckEvent{ActionID: "a1", Kind: action.Click, Attempt: 1})
	sink.EmitFinished(ctx, healedReport())

	require.Len(t, rec.lines, 3)
	assert.Equal(t, "action_started", rec.lines[0].Type)
	assert.Equal(t, "s1", rec.lines[0].SessionID)
	started, ok := rec.lines[0].Data.(startedRecord)
	require.True(t, ok)
	assert.Equal(t, "#buy", started.Target)
	assert.Equal(t, "main", started.FrameID)

	assert.Equal(t, "action_precheck", rec.lines[1].Type)
	assert.Equal(t, "a1", rec.lines[1].ActionID)

	assert.Equal(t, "action_finished", rec.lines[2].Type)
	assert.IsType(t, action.Report{}, rec.lines[2].Data)
}

func TestFanoutReachesEverySink(t *testing.T) {
	a, b := &fakeRecorder{}, &fakeRecorder{}
	fan := Fanout{NewRecorderSink(a), action.NoopEvents{}, NewRecorderSink(b)}
	ctx := context.Background()

	fan.EmitStarted(ctx, action.StartedEvent{ActionID: "a1"})
	fan.EmitPrecheck(ctx, action.PrecheckEvent{ActionID: "a1"})
	fan.EmitFinished(ctx, action.Report{ActionID: "a1"})

	assert.Len(t, a.lines, 3)
	assert.Len(t, b.lines, 3)
}
