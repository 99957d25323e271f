package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"browsernerd-actions/internal/browser"
	"browsernerd-actions/internal/config"
)

type fakeSessions struct {
	connected bool
	startErr  error
	started   int
	stopped   int
	sessions  []browser.Session
	closed    []string
	lastURL   string
}

func (f *fakeSessions) Start(context.Context) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	f.connected = true
	return nil
}

func (f *fakeSessions) Shutdown(context.Context) error {
	f.stopped++
	f.connected = false
	return nil
}

func (f *fakeSessions) IsConnected() bool   { return f.connected }
func (f *fakeSessions) ControlURL() string { return "ws://127.0.0.1:9222/devtools/browser/x" }
func (f *fakeSessions) List() []browser.Session {
	return append([]browser.Session(nil), f.sessions...)
}

func (f *fakeSessions) GetSession(id string) (browser.Session, bool) {
	for _, s := range f.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return browser.Session{}, false
}

func (f *fakeSessions) CreateSession(_ context.Context, url string) (*browser.Session, error) {
	f.lastURL = url
	s := browser.Session{ID: fmt.Sprintf("s%d", len(f.sessions)+1), TargetID: "T-new", URL: url, CreatedAt: time.Now()}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeSessions) Attach(_ context.Context, targetID string) (*browser.Session, error) {
	s := browser.Session{ID: "attached", TargetID: targetID}
	f.sessions = append(f.sessions, s)
	return &s, nil
}

func (f *fakeSessions) CloseSession(id string) error {
	if _, ok := f.GetSession(id); !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	f.closed = append(f.closed, id)
	return nil
}

func toolByName(t *testing.T, st *sessionTools, name string) Tool {
	t.Helper()
	for _, tool := range st.tools() {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %q not built", name)
	return nil
}

func TestSessionToolMetadata(t *testing.T) {
	st := &sessionTools{sessions: &fakeSessions{}}
	want := map[string][]string{
		"launch-browser":   nil,
		"shutdown-browser": nil,
		"list-sessions":    nil,
		"session-state":    {"session_id"},
		"create-session":   nil,
		"attach-session":   {"target_id"},
		"close-session":    {"session_id"},
	}
	tools := st.tools()
	if len(tools) != len(want) {
		t.Fatalf("expected %d tools, got %d", len(want), len(tools))
	}
	for _, tool := range tools {
		required, ok := want[tool.Name()]
		if !ok {
			t.Errorf("unexpected tool %q", tool.Name())
			continue
		}
		if desc := tool.Description(); len(desc) < 40 {
			t.Errorf("%s: description too short: %q", tool.Name(), desc)
		}
		schema := tool.InputSchema()
		if schema["type"] != "object" {
			t.Errorf("%s: expected object schema, got %v", tool.Name(), schema["type"])
		}
		got, _ := schema["required"].([]string)
		if strings.Join(got, ",") != strings.Join(required, ",") {
			t.Errorf("%s: expected required %v, got %v", tool.Name(), required, got)
		}
	}
}

func TestSessionToolsValidation(t *testing.T) {
	ctx := context.Background()
	st := &sessionTools{sessions: &fakeSessions{}}

	for _, tt := range []struct {
		tool string
		arg  string
	}{
		{"attach-session", "target_id"},
		{"close-session", "session_id"},
		{"session-state", "session_id"},
	} {
		t.Run(tt.tool, func(t *testing.T) {
			_, err := toolByName(t, st, tt.tool).Execute(ctx, map[string]interface{}{})
			if err == nil || !strings.Contains(err.Error(), tt.arg) {
				t.Errorf("expected %s error, got %v", tt.arg, err)
			}
		})
	}
}

func TestListSessionsCarriesRouteAndNetwork(t *testing.T) {
	fake := &fakeSessions{sessions: []browser.Session{{ID: "s1", TargetID: "T1"}}}
	net := browser.NewNetworkMonitor(2)
	for i := 0; i < 3; i++ {
		net.Record("s1", 200, false, false)
	}
	st := &sessionTools{sessions: fake, network: net}

	result, err := toolByName(t, st, "list-sessions").Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	views := result.(map[string]interface{})["sessions"].([]sessionView)
	if len(views) != 1 {
		t.Fatalf("expected one session, got %d", len(views))
	}
	v := views[0]
	if v.Route.SessionID != "s1" || v.Route.PageID != "T1" || v.Route.FrameID != mainFrame {
		t.Errorf("unexpected route %+v", v.Route)
	}
	if v.Route.MutexKey != "s1/main" {
		t.Errorf("expected mutex key s1/main, got %q", v.Route.MutexKey)
	}
	if v.Network == nil {
		t.Fatal("expected network stats")
	}
	if v.Network.Recorded != 3 || v.Network.Retained != 2 || v.Network.Capacity != 2 {
		t.Errorf("unexpected network stats %+v", *v.Network)
	}
}

func TestListSessionsWithoutNetwork(t *testing.T) {
	st := &sessionTools{sessions: &fakeSessions{sessions: []browser.Session{{ID: "s1"}}}}
	result, err := toolByName(t, st, "list-sessions").Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	views := result.(map[string]interface{})["sessions"].([]sessionView)
	if views[0].Network != nil {
		t.Errorf("expected no network stats, got %+v", views[0].Network)
	}
}

func TestSessionState(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSessions{sessions: []browser.Session{{ID: "s1", TargetID: "T1", URL: "https://shop.test/cart", Title: "Cart"}}}
	st := &sessionTools{sessions: fake, network: browser.NewNetworkMonitor(8)}
	tool := toolByName(t, st, "session-state")

	if _, err := tool.Execute(ctx, map[string]interface{}{"session_id": "nope"}); err == nil || !strings.Contains(err.Error(), "unknown session") {
		t.Errorf("expected unknown session error, got %v", err)
	}

	result, err := tool.Execute(ctx, map[string]interface{}{"session_id": "s1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v := result.(map[string]interface{})["session"].(sessionView)
	if v.URL != "https://shop.test/cart" || v.Title != "Cart" {
		t.Errorf("unexpected session %+v", v.Session)
	}
	if v.Network == nil || v.Network.Unavailable != "" || v.Network.Capacity != 8 {
		t.Errorf("unexpected network stats %+v", v.Network)
	}
}

func TestLaunchBrowserStatus(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSessions{}
	tool := toolByName(t, &sessionTools{sessions: fake}, "launch-browser")

	result, err := tool.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status := result.(map[string]interface{})["status"]; status != "started" {
		t.Errorf("expected started, got %v", status)
	}

	result, err = tool.Execute(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status := result.(map[string]interface{})["status"]; status != "already_connected" {
		t.Errorf("expected already_connected, got %v", status)
	}
	if fake.started != 1 {
		t.Errorf("expected one start, got %d", fake.started)
	}

	failing := &fakeSessions{startErr: errors.New("no debugger_url")}
	if _, err := toolByName(t, &sessionTools{sessions: failing}, "launch-browser").Execute(ctx, nil); err == nil {
		t.Error("expected start error")
	}
}

func TestCreateAttachAndCloseSession(t *testing.T) {
	ctx := context.Background()
	fake := &fakeSessions{connected: true}
	st := &sessionTools{sessions: fake}

	result, err := toolByName(t, st, "create-session").Execute(ctx, map[string]interface{}{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.lastURL != "about:blank" {
		t.Errorf("expected about:blank default, got %q", fake.lastURL)
	}
	created := result.(map[string]interface{})["session"].(sessionView)
	if created.Route.SessionID != created.ID || created.Route.PageID != "T-new" {
		t.Errorf("unexpected route %+v", created.Route)
	}

	result, err = toolByName(t, st, "attach-session").Execute(ctx, map[string]interface{}{"target_id": "T9"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attached := result.(map[string]interface{})["session"].(sessionView); attached.TargetID != "T9" {
		t.Errorf("expected target T9, got %q", attached.TargetID)
	}

	result, err = toolByName(t, st, "close-session").Execute(ctx, map[string]interface{}{"session_id": created.ID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status := result.(map[string]interface{})["status"]; status != "closed" {
		t.Errorf("expected closed, got %v", status)
	}
	if len(fake.closed) != 1 || fake.closed[0] != created.ID {
		t.Errorf("expected %s closed, got %v", created.ID, fake.closed)
	}

	if _, err := toolByName(t, st, "close-session").Execute(ctx, map[string]interface{}{"session_id": "nope"}); err == nil {
		t.Error("expected error for unknown session")
	}

	if _, err := toolByName(t, st, "shutdown-browser").Execute(ctx, nil); err != nil || fake.stopped != 1 {
		t.Errorf("expected one shutdown, got %d (%v)", fake.stopped, err)
	}
}

// The production session manager satisfies the tools' port and fails cleanly
// without a browser.
func TestSessionToolsWithoutBrowser(t *testing.T) {
	ctx := context.Background()
	sessions := browser.NewSessionManager(config.BrowserConfig{}, browser.NewNetworkMonitor(16), nil)
	st := &sessionTools{sessions: sessions}

	result, err := toolByName(t, st, "list-sessions").Execute(ctx, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if views := result.(map[string]interface{})["sessions"].([]sessionView); len(views) != 0 {
		t.Errorf("expected no sessions, got %d", len(views))
	}
	if _, err := toolByName(t, st, "create-session").Execute(ctx, map[string]interface{}{"url": "about:blank"}); err == nil {
		t.Error("expected error without a browser")
	}
	if _, err := toolByName(t, st, "launch-browser").Execute(ctx, nil); err == nil {
		t.Error("expected error without debugger_url or launch command")
	}
}
