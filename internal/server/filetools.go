package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/ngao/internal/safepath"
)

// File tools shell out to the standard utilities instead of reimplementing
// them: cat/grep/sed behavior is exactly what callers expect, and every
// invocation goes through the same sandboxed runner as run_shell. Paths are
// resolved first so a traversal attempt never reaches the utility.

func (s *Server) registerFileTools() {
	s.mcp.AddTool(mcp.NewTool("cat_file",
		mcp.WithDescription("Display file contents"),
		mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to the file, relative to the safe root")),
	), s.handleCatFile)

	s.mcp.AddTool(mcp.NewTool("grep_file",
		mcp.WithDescription("Search for a pattern in a file"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Pattern to search for")),
		mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to the file, relative to the safe root")),
	), s.handleGrepFile)

	s.mcp.AddTool(mcp.NewTool("sed_search",
		mcp.WithDescription("Run a sed script against a file (print mode only)"),
		mcp.WithString("script", mcp.Required(), mcp.Description("sed script, e.g. '1,10p' or '/error/p'")),
		mcp.WithString("filepath", mcp.Required(), mcp.Description("Path to the file, relative to the safe root")),
	), s.handleSedSearch)

	s.mcp.AddTool(mcp.NewTool("list_dir",
		mcp.WithDescription("List directory contents"),
		mcp.WithString("path", mcp.Description("Directory to list, relative to the safe root (defaults to the root)")),
	), s.handleListDir)

	s.mcp.AddTool(mcp.NewTool("file_search",
		mcp.WithDescription("Find files whose names match a pattern"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Regular expression matched against file names")),
		mcp.WithString("root", mcp.Description("Directory to search from, relative to the safe root")),
	), s.handleFileSearch)
}

func (s *Server) handleCatFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.runner.RunArgs([]string{"cat", resolved}, s.cfg.Timeout())), nil
}

func (s *Server) handleGrepFile(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	out := s.runner.RunArgs([]string{"grep", "-n", pattern, resolved}, s.cfg.Timeout())
	// grep distinguishes "no matches" (exit 1) from real errors (exit 2).
	if out == "" || out == "[Exit code: 1]" {
		return mcp.NewToolResultText(fmt.Sprintf("No matches for '%s' in %s", pattern, path)), nil
	}
	return mcp.NewToolResultText(out), nil
}

func (s *Server) handleSedSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	script, err := req.RequireString("script")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	path, err := req.RequireString("filepath")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	resolved, err := s.resolvePath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	// -n keeps sed read-only: only explicit p commands produce output, and
	// in-place edit flags never enter the argv.
	return mcp.NewToolResultText(s.runner.RunArgs([]string{"sed", "-n", script, resolved}, s.cfg.Timeout())), nil
}

func (s *Server) handleListDir(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", ".")
	resolved, err := s.resolvePath(path)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(s.runner.RunArgs([]string{"ls", "-la", resolved}, s.cfg.Timeout())), nil
}

func (s *Server) handleFileSearch(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern, err := req.RequireString("pattern")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	root := req.GetString("root", ".")
	resolved, err := s.resolvePath(root)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid pattern: %v", err)), nil
	}

	var matches []string
	walkErr := filepath.WalkDir(resolved, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtrees are skipped, not fatal.
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && re.MatchString(d.Name()) {
			rel, relErr := filepath.Rel(s.resolver.Root(), p)
			if relErr != nil {
				rel = p
			}
			matches = append(matches, rel)
		}
		return nil
	})
	if walkErr != nil {
		return mcp.NewToolResultError(walkErr.Error()), nil
	}
	if len(matches) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No files matching '%s' under %s", pattern, root)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Found %d file(s):\n%s", len(matches), strings.Join(matches, "\n"))), nil
}

// resolvePath maps a tool argument to an absolute path inside the safe
// root, turning escapes into a uniform access-denied message.
func (s *Server) resolvePath(raw string) (string, error) {
	resolved, err := s.resolver.Resolve(raw)
	if err != nil {
		if errors.Is(err, safepath.ErrAccessDenied) {
			return "", fmt.Errorf("Access denied: '%s' is outside the allowed directory", raw)
		}
		return "", err
	}
	return resolved, nil
}
