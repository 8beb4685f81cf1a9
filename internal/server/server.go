// Package server exposes the execution core over MCP stdio. It owns tool
// registration, request dispatch, and the progress notification side
// channel; the core packages never see the wire format.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/ngao/internal/classify"
	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/safepath"
	"github.com/jkaninda/ngao/internal/sandbox"
	"github.com/jkaninda/ngao/internal/task"
)

// Server wires the core components to the MCP dispatch layer.
type Server struct {
	mcp      *mcpserver.MCPServer
	resolver *safepath.Resolver
	runner   *sandbox.Runner
	tasks    *task.Manager
	cfg      *config.Config
	logger   *slog.Logger
	version  string
}

// New builds the MCP server and registers all tools.
func New(cfg *config.Config, resolver *safepath.Resolver, runner *sandbox.Runner, tasks *task.Manager, logger *slog.Logger, version string) *Server {
	s := &Server{
		resolver: resolver,
		runner:   runner,
		tasks:    tasks,
		cfg:      cfg,
		logger:   logger,
		version:  version,
	}
	s.mcp = mcpserver.NewMCPServer("ngao", version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	s.registerShellTools()
	s.registerTaskTools()
	s.registerFileTools()
	return s
}

// ServeStdio blocks serving requests on stdin/stdout until EOF or shutdown.
// The loop is single-threaded by design: progress notifications for a
// streaming call are only meaningful while that call is in flight.
func (s *Server) ServeStdio() error {
	s.logger.Info("ngao serving on stdio",
		slog.String("safe_root", s.resolver.Root()),
		slog.String("version", s.version),
	)
	return mcpserver.ServeStdio(s.mcp)
}

func (s *Server) registerShellTools() {
	runShell := mcp.NewTool("run_shell",
		mcp.WithDescription("Shell command execution with streaming/background support"),
		mcp.WithString("command", mcp.Required(), mcp.Description("The shell command to execute")),
		mcp.WithBoolean("stream", mcp.Description("Enable streaming output with progress updates")),
		mcp.WithBoolean("background", mcp.Description("Run command in background")),
		mcp.WithString("request_id", mcp.Description("Request ID for progress tracking")),
	)
	s.mcp.AddTool(runShell, s.handleRunShell)

	// Same handler, minimal schema — kept for callers that only ever want
	// plain synchronous output.
	runRaw := mcp.NewTool("run_raw",
		mcp.WithDescription("Shell command raw output"),
		mcp.WithString("command", mcp.Required(), mcp.Description("The shell command to execute")),
	)
	s.mcp.AddTool(runRaw, s.handleRunShell)

	s.mcp.AddTool(mcp.NewTool("print_workdir",
		mcp.WithDescription("Show working dir"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(s.resolver.Root()), nil
	})

	s.mcp.AddTool(mcp.NewTool("version",
		mcp.WithDescription("Show server version and build info"),
	), func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(fmt.Sprintf("Server: ngao v%s\nSafe Root: %s\nDebug Mode: %v",
			s.version, s.resolver.Root(), s.cfg.Debug)), nil
	})
}

func (s *Server) handleRunShell(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := req.RequireString("command")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	stream := req.GetBool("stream", false)
	background := req.GetBool("background", false)
	requestID := req.GetString("request_id", "default")

	s.logger.Debug("run_shell",
		slog.String("command", command),
		slog.Bool("stream", stream),
		slog.Bool("background", background),
	)

	warning := classify.Warning(command)

	// Background wins when both flags are set: the caller asked for a
	// detached job, streaming has nobody to stream to.
	if background {
		id := s.tasks.Create(command)
		return mcp.NewToolResultText(fmt.Sprintf(
			"Background task started with ID: %s\nUse 'task_status' or 'task_output' tools to check progress.", id)), nil
	}

	if stream {
		out := s.runner.RunStream(command, requestID, s.cfg.StreamTimeout(), s.progressFunc(ctx))
		return mcp.NewToolResultText(out), nil
	}

	out := s.runner.RunSync(command, s.syncTimeout(command))
	if warning != "" {
		out = warning + "\n\n" + out
	}
	return mcp.NewToolResultText(out), nil
}

// syncTimeout picks the effective deadline for a synchronous run: the
// configured ceiling, tightened for network-bound commands.
func (s *Server) syncTimeout(command string) time.Duration {
	timeout := s.cfg.Timeout()
	if classify.Classify(command).Network && classify.NetworkTimeout < timeout {
		return classify.NetworkTimeout
	}
	return timeout
}

// progressFunc adapts the MCP notification channel into the core's
// ProgressFunc. Outside a server context (tests) it returns nil and the
// strategies simply run silent.
func (s *Server) progressFunc(ctx context.Context) sandbox.ProgressFunc {
	srv := mcpserver.ServerFromContext(ctx)
	if srv == nil {
		return nil
	}
	return func(requestID, text string) {
		err := srv.SendNotificationToClient(ctx, "notifications/progress", map[string]any{
			"progressToken": requestID,
			"message":       text,
		})
		if err != nil {
			s.logger.Debug("progress notification failed", slog.String("error", err.Error()))
		}
	}
}
