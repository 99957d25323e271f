package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"browsernerd-actions/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"
)

func (s *Server) registerAllResources() {
	if s == nil || s.mcpServer == nil {
		return
	}

	s.mcpServer.AddResource(
		mcp.NewResource(
			"browsernerd://about",
			"BrowserNERD Actions About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, registered tools and usage notes."),
		),
		s.handleAboutResource,
	)

	if s.deps.Facts == nil {
		return
	}
	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"browsernerd://action/{actionId}/facts{?predicate,limit}",
			"Action Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Lifecycle facts recorded for one action, oldest first."),
		),
		s.handleActionFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	tools := make([]string, 0, len(s.tools))
	for name := range s.tools {
		tools = append(tools, name)
	}
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   tools,
		"notes": []string{
			"Every action returns a report; a failed action is a recorded result, not a tool error.",
			"Typed text is never echoed; reports carry lengths and hashes only.",
			"Self-heal runs at most once per action.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonResource(request.Params.URI, payload)
}

func (s *Server) handleActionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	actionID := argString(request.Params.Arguments["actionId"])
	if actionID == "" {
		return nil, fmt.Errorf("missing actionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = 25
	}
	if limit > 500 {
		limit = 500
	}

	facts := selectRecentActionFacts(s.deps.Facts, actionID, predicate, limit)
	return jsonResource(request.Params.URI, map[string]interface{}{
		"action_id": actionID,
		"predicate": predicate,
		"limit":     limit,
		"count":     len(facts),
		"facts":     facts,
	})
}

func jsonResource(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentActionFacts returns the newest limit base facts whose first
// argument is actionID, in chronological order.
func selectRecentActionFacts(engine *mangle.Engine, actionID, predicate string, limit int) []mangle.Fact {
	if engine == nil || actionID == "" || limit <= 0 {
		return []mangle.Fact{}
	}

	var source []mangle.Fact
	if predicate != "" {
		source = engine.FactsByPredicate(predicate)
	} else {
		source = engine.Facts()
	}

	out := make([]mangle.Fact, 0, min(limit, len(source)))
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 {
			continue
		}
		if fmt.Sprintf("%v", f.Args[0]) != actionID {
			continue
		}
		out = append(out, f)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	case string:
		return getIntArg(map[string]interface{}{"v": value}, "v", 0)
	case []string:
		if len(value) == 0 {
			return 0
		}
		return asInt(value[0])
	}
	return 0
}
