package mcp

import (
	"context"
	"fmt"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/browser"
)

// sessionControl is the part of the session manager the tools drive.
type sessionControl interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
	IsConnected() bool
	ControlURL() string
	List() []browser.Session
	GetSession(sessionID string) (browser.Session, bool)
	CreateSession(ctx context.Context, url string) (*browser.Session, error)
	Attach(ctx context.Context, targetID string) (*browser.Session, error)
	CloseSession(sessionID string) error
}

// networkStats reports the network log behind post-action digests.
type networkStats interface {
	Stats(sessionID string) browser.NetStats
}

// sessionView is a session as action callers see it: its metadata, the
// route actions against it use, and the state of its network log.
type sessionView struct {
	browser.Session
	Route   action.Route      `json:"route"`
	Network *browser.NetStats `json:"network,omitempty"`
}

// sessionTool adapts one session operation to the Tool interface.
type sessionTool struct {
	name        string
	description string
	schema      map[string]interface{}
	run         func(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

func (t *sessionTool) Name() string                        { return t.name }
func (t *sessionTool) Description() string                 { return t.description }
func (t *sessionTool) InputSchema() map[string]interface{} { return t.schema }
func (t *sessionTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return t.run(ctx, args)
}

type sessionTools struct {
	sessions sessionControl
	network  networkStats
}

func (s *sessionTools) view(sess browser.Session) sessionView {
	v := sessionView{
		Session: sess,
		Route:   newRoute(sess.ID, sess.TargetID, ""),
	}
	if s.network != nil {
		st := s.network.Stats(sess.ID)
		v.Network = &st
	}
	return v
}

func (s *sessionTools) tools() []Tool {
	noArgs := objectSchema(nil)
	sessionArg := objectSchema(map[string]interface{}{
		"session_id": map[string]interface{}{"type": "string", "description": "Session to inspect or close"},
	}, "session_id")

	return []Tool{
		&sessionTool{
			name: "launch-browser",
			description: `Start or connect to Chrome using the configured debugger_url or launch command.
Idempotent. Returns {status: "started"|"already_connected", control_url}.`,
			schema: noArgs,
			run:    s.launch,
		},
		&sessionTool{
			name: "shutdown-browser",
			description: `Close every session and disconnect from Chrome.
Action facts and recordings are kept. Returns {status: "stopped"}.`,
			schema: noArgs,
			run:    s.shutdown,
		},
		&sessionTool{
			name: "list-sessions",
			description: `List sessions actions can target, oldest first.
Each entry carries the route (session, page, frame, mutex key) used by click, type-text and
select-option, and the size of the network log behind post-action digests.`,
			schema: noArgs,
			run:    s.list,
		},
		&sessionTool{
			name: "session-state",
			description: `Show one session: its route, last URL and title seen by an action, and
whether network digests are available for it.`,
			schema: sessionArg,
			run:    s.state,
		},
		&sessionTool{
			name: "create-session",
			description: `Open a new incognito tab, optionally at url, and return it as a session
ready for actions.`,
			schema: objectSchema(map[string]interface{}{
				"url": map[string]interface{}{"type": "string", "description": "Page to open (default about:blank)"},
			}),
			run: s.create,
		},
		&sessionTool{
			name: "attach-session",
			description: `Adopt an existing Chrome tab by CDP target id so actions can run against it.`,
			schema: objectSchema(map[string]interface{}{
				"target_id": map[string]interface{}{"type": "string", "description": "CDP target id of the tab"},
			}, "target_id"),
			run: s.attach,
		},
		&sessionTool{
			name: "close-session",
			description: `Close a session's tab. Its network log and cached self-heal resolutions
are dropped. Returns {status: "closed", session_id}.`,
			schema: sessionArg,
			run:    s.close,
		},
	}
}

func objectSchema(props map[string]interface{}, required ...string) map[string]interface{} {
	if props == nil {
		props = map[string]interface{}{}
	}
	schema := map[string]interface{}{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s *sessionTools) launch(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	status := "already_connected"
	if !s.sessions.IsConnected() {
		if err := s.sessions.Start(ctx); err != nil {
			return nil, err
		}
		status = "started"
	}
	return map[string]interface{}{"status": status, "control_url": s.sessions.ControlURL()}, nil
}

func (s *sessionTools) shutdown(ctx context.Context, _ map[string]interface{}) (interface{}, error) {
	if err := s.sessions.Shutdown(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "stopped"}, nil
}

func (s *sessionTools) list(context.Context, map[string]interface{}) (interface{}, error) {
	all := s.sessions.List()
	views := make([]sessionView, 0, len(all))
	for _, sess := range all {
		views = append(views, s.view(sess))
	}
	return map[string]interface{}{"sessions": views}, nil
}

func (s *sessionTools) state(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "session_id")
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	sess, ok := s.sessions.GetSession(id)
	if !ok {
		return nil, fmt.Errorf("unknown session %s", id)
	}
	return map[string]interface{}{"session": s.view(sess)}, nil
}

func (s *sessionTools) create(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	url := getStringArg(args, "url")
	if url == "" {
		url = "about:blank"
	}
	sess, err := s.sessions.CreateSession(ctx, url)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": s.view(*sess)}, nil
}

func (s *sessionTools) attach(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	targetID := getStringArg(args, "target_id")
	if targetID == "" {
		return nil, fmt.Errorf("target_id is required")
	}
	sess, err := s.sessions.Attach(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{"session": s.view(*sess)}, nil
}

func (s *sessionTools) close(_ context.Context, args map[string]interface{}) (interface{}, error) {
	id := getStringArg(args, "session_id")
	if id == "" {
		return nil, fmt.Errorf("session_id is required")
	}
	if err := s.sessions.CloseSession(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"status": "closed", "session_id": id}, nil
}
