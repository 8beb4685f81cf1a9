package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/ngao/internal/task"
)

const (
	listSeparator   = "=================================================="
	listCommandSize = 60
)

func (s *Server) registerTaskTools() {
	s.mcp.AddTool(mcp.NewTool("task_status",
		mcp.WithDescription("Check the status of a background task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("The background task ID")),
	), s.handleTaskStatus)

	s.mcp.AddTool(mcp.NewTool("task_output",
		mcp.WithDescription("Get the output of a background task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("The background task ID")),
		mcp.WithNumber("max_lines", mcp.Description("Maximum number of output lines to return")),
	), s.handleTaskOutput)

	s.mcp.AddTool(mcp.NewTool("task_list",
		mcp.WithDescription("List all background tasks"),
	), s.handleTaskList)

	s.mcp.AddTool(mcp.NewTool("task_terminate",
		mcp.WithDescription("Terminate a running background task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("The background task ID")),
	), s.handleTaskTerminate)
}

func (s *Server) handleTaskStatus(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.tasks.Get(id)
	if errors.Is(err, task.ErrNotFound) {
		return mcp.NewToolResultText(notFoundText(id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(t.Info())), nil
}

func (s *Server) handleTaskOutput(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxLines := req.GetInt("max_lines", 0)
	t, err := s.tasks.Get(id)
	if errors.Is(err, task.ErrNotFound) {
		return mcp.NewToolResultText(notFoundText(id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	lines := t.Output(maxLines)
	return mcp.NewToolResultText(formatOutput(t.Info(), lines, maxLines)), nil
}

func (s *Server) handleTaskList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatList(s.tasks.List())), nil
}

func (s *Server) handleTaskTerminate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("task_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	info, alreadyTerminal, err := s.tasks.Terminate(id)
	if errors.Is(err, task.ErrNotFound) {
		return mcp.NewToolResultText(notFoundText(id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if alreadyTerminal {
		return mcp.NewToolResultText(fmt.Sprintf("Task '%s' is already %s", info.ID, info.Status)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task '%s' has been terminated", info.ID)), nil
}

func notFoundText(id string) string {
	return fmt.Sprintf("Task '%s' not found", id)
}

func formatStatus(info task.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task Status: %s\n", info.ID)
	fmt.Fprintf(&b, "  Command: %s\n", info.Command)
	fmt.Fprintf(&b, "  Status: %s\n", info.Status)
	if !info.StartTime.IsZero() {
		fmt.Fprintf(&b, "  Started: %s\n", info.StartTime.Format("2006-01-02 15:04:05"))
	}
	if !info.EndTime.IsZero() {
		fmt.Fprintf(&b, "  Finished: %s\n", info.EndTime.Format("2006-01-02 15:04:05"))
	}
	fmt.Fprintf(&b, "  Duration: %s\n", formatElapsed(info.Elapsed()))
	if info.ExitCode != nil {
		fmt.Fprintf(&b, "  Exit Code: %d\n", *info.ExitCode)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatOutput(info task.Info, lines []string, maxLines int) string {
	if len(lines) == 0 {
		return fmt.Sprintf("No output available for task %s (status: %s)", info.ID, info.Status)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Output for task %s (%d lines):\n", info.ID, len(lines))
	b.WriteString(listSeparator + "\n")
	b.WriteString(strings.Join(lines, "\n"))
	if maxLines > 0 && len(lines) == maxLines {
		fmt.Fprintf(&b, "\n... (truncated at %d lines)", maxLines)
	}
	return b.String()
}

func formatList(infos []task.Info) string {
	if len(infos) == 0 {
		return "No background tasks found"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Background Tasks (%d total):\n", len(infos))
	b.WriteString(listSeparator + "\n")
	for _, info := range infos {
		fmt.Fprintf(&b, "- %s: %s (%s) - %s\n",
			info.ID, info.Status, formatElapsed(info.Elapsed()), truncateCommand(info.Command))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}

func truncateCommand(command string) string {
	if len(command) <= listCommandSize {
		return command
	}
	return command[:listCommandSize] + "..."
}
