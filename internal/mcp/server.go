package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"browsernerd-actions/internal/action"
	"browsernerd-actions/internal/anchor"
	"browsernerd-actions/internal/browser"
	"browsernerd-actions/internal/config"
	"browsernerd-actions/internal/mangle"
	"browsernerd-actions/internal/policy"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Actions runs the three operation kinds.
type Actions interface {
	Click(ctx context.Context, ec action.ExecCtx, target anchor.Descriptor, p action.ClickParams, opts action.Options) (action.Report, error)
	Type(ctx context.Context, ec action.ExecCtx, target anchor.Descriptor, p action.TypeParams, opts action.Options) (action.Report, error)
	Select(ctx context.Context, ec action.ExecCtx, target anchor.Descriptor, p action.SelectParams, opts action.Options) (action.Report, error)
}

// Deps are the collaborators exposed through tools. Sessions and Facts may be
// nil, in which case their tools are not registered. Network adds log state
// to session views.
type Deps struct {
	Sessions *browser.SessionManager
	Network  *browser.NetworkMonitor
	Actions  Actions
	Facts    *mangle.Engine
	Policies *policy.Store
	Logger   *zap.Logger
}

// Server wires the MCP runtime to the action engine and the session manager.
type Server struct {
	cfg       config.Config
	deps      Deps
	logger    *zap.Logger
	tools     map[string]Tool
	mcpServer *mcpserver.MCPServer
}

// Tool describes the contract for MCP tool implementations.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// NewServer constructs the MCP server and registers all tools.
func NewServer(cfg config.Config, deps Deps) (*Server, error) {
	if deps.Actions == nil {
		return nil, fmt.Errorf("action engine is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	mcpSrv := mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
	)

	server := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    deps.Logger.With(zap.String("component", "mcp")),
		tools:     make(map[string]Tool),
		mcpServer: mcpSrv,
	}

	server.registerAllTools()
	server.registerAllResources()
	return server, nil
}

// Start launches the stdio server.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE hosts the server over HTTP using SSE endpoints with graceful shutdown.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("SSE server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ExecuteTool executes a tool directly (used by tests).
func (s *Server) ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	tool, exists := s.tools[name]
	if !exists {
		return nil, fmt.Errorf("tool not found: %s", name)
	}
	return tool.Execute(ctx, args)
}

func (s *Server) registerAllTools() {
	timeout := s.cfg.MCP.ActionTimeout()
	runner := &actionRunner{actions: s.deps.Actions, sessions: s.deps.Sessions, timeout: timeout}

	// Actions
	s.registerTool(&ClickTool{run: runner})
	s.registerTool(&TypeTextTool{run: runner})
	s.registerTool(&SelectOptionTool{run: runner})

	if s.deps.Policies != nil {
		s.registerTool(&ActionPolicyTool{policies: s.deps.Policies})
	}

	// Action facts
	if s.deps.Facts != nil {
		s.registerTool(&ActionFactsTool{engine: s.deps.Facts})
		s.registerTool(&SubmitRuleTool{engine: s.deps.Facts})
	}

	// Browser session management
	if s.deps.Sessions != nil {
		st := &sessionTools{sessions: s.deps.Sessions}
		if s.deps.Network != nil {
			st.network = s.deps.Network
		}
		for _, tool := range st.tools() {
			s.registerTool(tool)
		}
	}
}

func (s *Server) registerTool(tool Tool) {
	s.tools[tool.Name()] = tool

	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		schema = json.RawMessage(`{"type":"object"}`)
	}

	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.wrapTool(tool))
}

func (s *Server) wrapTool(tool Tool) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}

		result, err := tool.Execute(ctx, args)
		if err != nil {
			s.logger.Debug("tool failed", zap.String("tool", tool.Name()), zap.Error(err))
			return &mcp.CallToolResult{
				Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf("tool %s failed: %v", tool.Name(), err))},
				IsError: true,
			}, nil
		}

		payload := marshalToolPayload(tool.Name(), result)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent(string(payload))},
			IsError: false,
		}, nil
	}
}

func marshalToolPayload(toolName string, result interface{}) []byte {
	payload, marshalErr := json.Marshal(result)
	if marshalErr == nil {
		return payload
	}

	fallback := map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf("tool %s returned non-serializable payload: %v", toolName, marshalErr),
	}
	payload, fallbackErr := json.Marshal(fallback)
	if fallbackErr == nil {
		return payload
	}

	return []byte(fmt.Sprintf(`{"success":false,"error":"tool %s failed to encode payload"}`, toolName))
}
