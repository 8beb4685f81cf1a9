package server

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/ngao/internal/config"
	"github.com/jkaninda/ngao/internal/safepath"
	"github.com/jkaninda/ngao/internal/sandbox"
	"github.com/jkaninda/ngao/internal/task"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg := &config.Config{SafeRoot: dir, TimeoutS: 30, StreamTimeoutS: 30, BackgroundTimeoutS: 30}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	resolver, err := safepath.NewResolver(cfg.SafeRoot)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	runner := sandbox.NewRunner(resolver.Root(), logger)
	store := task.NewStore(cfg.SnapshotPath(), logger)
	tasks := task.NewManager(runner, store, cfg.BackgroundTimeout(), logger)
	t.Cleanup(tasks.Stop)

	return New(cfg, resolver, runner, tasks, logger, "test")
}

func callReq(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestRunShell_Sync(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunShell(context.Background(), callReq("run_shell", map[string]any{
		"command": "echo hello",
	}))
	if err != nil {
		t.Fatalf("handleRunShell: %v", err)
	}
	if got := resultText(t, res); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}

func TestRunShell_MissingCommand(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunShell(context.Background(), callReq("run_shell", map[string]any{}))
	if err != nil {
		t.Fatalf("handleRunShell: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for missing command")
	}
}

func TestRunShell_InteractiveWarningPrefixed(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunShell(context.Background(), callReq("run_shell", map[string]any{
		"command": "echo confirm",
	}))
	if err != nil {
		t.Fatalf("handleRunShell: %v", err)
	}
	got := resultText(t, res)
	if !strings.HasPrefix(got, "WARNING:") {
		t.Errorf("expected warning prefix in output, got %q", got)
	}
	if !strings.HasSuffix(got, "confirm") {
		t.Errorf("expected command output after warning, got %q", got)
	}
}

func TestRunShell_BackgroundReturnsTaskID(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunShell(context.Background(), callReq("run_shell", map[string]any{
		"command":    "echo bg",
		"background": true,
	}))
	if err != nil {
		t.Fatalf("handleRunShell: %v", err)
	}
	got := resultText(t, res)
	if !strings.HasPrefix(got, "Background task started with ID: ") {
		t.Fatalf("unexpected background response: %q", got)
	}
	id := strings.TrimPrefix(strings.SplitN(got, "\n", 2)[0], "Background task started with ID: ")
	if len(id) != 8 {
		t.Errorf("task id %q: got length %d, want 8", id, len(id))
	}
}

func TestRunShell_BackgroundWinsOverStream(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleRunShell(context.Background(), callReq("run_shell", map[string]any{
		"command":    "echo both",
		"stream":     true,
		"background": true,
	}))
	if err != nil {
		t.Fatalf("handleRunShell: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "Background task started") {
		t.Errorf("expected background response, got %q", got)
	}
}

func TestTaskStatus_Unknown(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleTaskStatus(context.Background(), callReq("task_status", map[string]any{
		"task_id": "nope1234",
	}))
	if err != nil {
		t.Fatalf("handleTaskStatus: %v", err)
	}
	if got := resultText(t, res); got != "Task 'nope1234' not found" {
		t.Errorf("got %q", got)
	}
	if res.IsError {
		t.Error("unknown task should be a plain text result, not an error")
	}
}

func TestTaskLifecycle_ThroughHandlers(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRunShell(ctx, callReq("run_shell", map[string]any{
		"command":    "echo line1; echo line2",
		"background": true,
	}))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := strings.TrimPrefix(strings.SplitN(resultText(t, res), "\n", 2)[0], "Background task started with ID: ")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		res, err = s.handleTaskStatus(ctx, callReq("task_status", map[string]any{"task_id": id}))
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if strings.Contains(resultText(t, res), "Status: completed") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	status := resultText(t, res)
	if !strings.Contains(status, "Status: completed") {
		t.Fatalf("task never completed:\n%s", status)
	}
	if !strings.Contains(status, "Exit Code: 0") {
		t.Errorf("expected exit code in status:\n%s", status)
	}

	res, err = s.handleTaskOutput(ctx, callReq("task_output", map[string]any{"task_id": id}))
	if err != nil {
		t.Fatalf("output: %v", err)
	}
	out := resultText(t, res)
	if !strings.Contains(out, "line1") || !strings.Contains(out, "line2") {
		t.Errorf("missing lines in output:\n%s", out)
	}

	// Output reads consume; a second read reports nothing left.
	res, err = s.handleTaskOutput(ctx, callReq("task_output", map[string]any{"task_id": id}))
	if err != nil {
		t.Fatalf("second output: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "No output available") {
		t.Errorf("second read: got %q", got)
	}

	res, err = s.handleTaskTerminate(ctx, callReq("task_terminate", map[string]any{"task_id": id}))
	if err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "already completed") {
		t.Errorf("terminate after completion: got %q", got)
	}
}

func TestTaskList_Empty(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleTaskList(context.Background(), callReq("task_list", nil))
	if err != nil {
		t.Fatalf("handleTaskList: %v", err)
	}
	if got := resultText(t, res); got != "No background tasks found" {
		t.Errorf("got %q", got)
	}
}

func TestCatFile_InsideRoot(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.resolver.Root(), "note.txt")
	if err := os.WriteFile(path, []byte("contents here\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := s.handleCatFile(context.Background(), callReq("cat_file", map[string]any{
		"filepath": "note.txt",
	}))
	if err != nil {
		t.Fatalf("handleCatFile: %v", err)
	}
	if got := resultText(t, res); got != "contents here" {
		t.Errorf("got %q", got)
	}
}

func TestCatFile_EscapeDenied(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleCatFile(context.Background(), callReq("cat_file", map[string]any{
		"filepath": "../../etc/passwd",
	}))
	if err != nil {
		t.Fatalf("handleCatFile: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected an error result for path escape")
	}
	if got := resultText(t, res); !strings.Contains(got, "Access denied") {
		t.Errorf("got %q", got)
	}
}

func TestGrepFile_NoMatches(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.resolver.Root(), "log.txt")
	if err := os.WriteFile(path, []byte("all quiet\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := s.handleGrepFile(context.Background(), callReq("grep_file", map[string]any{
		"pattern":  "error",
		"filepath": "log.txt",
	}))
	if err != nil {
		t.Fatalf("handleGrepFile: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "No matches") {
		t.Errorf("got %q", got)
	}
}

func TestSedSearch_PrintRange(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.resolver.Root(), "lines.txt")
	if err := os.WriteFile(path, []byte("a\nb\nc\nd\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := s.handleSedSearch(context.Background(), callReq("sed_search", map[string]any{
		"script":   "2,3p",
		"filepath": "lines.txt",
	}))
	if err != nil {
		t.Fatalf("handleSedSearch: %v", err)
	}
	if got := resultText(t, res); got != "b\nc" {
		t.Errorf("got %q, want %q", got, "b\nc")
	}
}

func TestFileSearch_FindsByName(t *testing.T) {
	s := newTestServer(t)
	root := s.resolver.Root()
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"main.go", "sub/util.go", "readme.md"} {
		if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	res, err := s.handleFileSearch(context.Background(), callReq("file_search", map[string]any{
		"pattern": `\.go$`,
	}))
	if err != nil {
		t.Fatalf("handleFileSearch: %v", err)
	}
	got := resultText(t, res)
	if !strings.Contains(got, "main.go") || !strings.Contains(got, filepath.Join("sub", "util.go")) {
		t.Errorf("missing expected matches:\n%s", got)
	}
	if strings.Contains(got, "readme.md") {
		t.Errorf("unexpected match:\n%s", got)
	}
}

func TestFileSearch_BadPattern(t *testing.T) {
	s := newTestServer(t)
	res, err := s.handleFileSearch(context.Background(), callReq("file_search", map[string]any{
		"pattern": "[",
	}))
	if err != nil {
		t.Fatalf("handleFileSearch: %v", err)
	}
	if !res.IsError {
		t.Error("expected an error result for an invalid pattern")
	}
}

func TestListDir_DefaultsToRoot(t *testing.T) {
	s := newTestServer(t)
	path := filepath.Join(s.resolver.Root(), "visible.txt")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	res, err := s.handleListDir(context.Background(), callReq("list_dir", map[string]any{}))
	if err != nil {
		t.Fatalf("handleListDir: %v", err)
	}
	if got := resultText(t, res); !strings.Contains(got, "visible.txt") {
		t.Errorf("got %q", got)
	}
}

func TestFormatStatus_Shape(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	code := 0
	info := task.Info{
		ID:        "abcd1234",
		Command:   "sleep 1",
		Status:    task.StatusCompleted,
		StartTime: start,
		EndTime:   start.Add(1200 * time.Millisecond),
		ExitCode:  &code,
	}
	got := formatStatus(info)
	for _, want := range []string{
		"Task Status: abcd1234",
		"  Command: sleep 1",
		"  Status: completed",
		"  Started: 2026-03-01 10:00:00",
		"  Finished: 2026-03-01 10:00:01",
		"  Duration: 1.2s",
		"  Exit Code: 0",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("missing %q in:\n%s", want, got)
		}
	}
}

func TestFormatOutput_Truncation(t *testing.T) {
	info := task.Info{ID: "abcd1234", Status: task.StatusRunning}
	got := formatOutput(info, []string{"one", "two"}, 2)
	if !strings.Contains(got, "Output for task abcd1234 (2 lines):") {
		t.Errorf("missing header:\n%s", got)
	}
	if !strings.Contains(got, "... (truncated at 2 lines)") {
		t.Errorf("missing truncation notice:\n%s", got)
	}

	full := formatOutput(info, []string{"one", "two"}, 0)
	if strings.Contains(full, "truncated") {
		t.Errorf("unexpected truncation notice:\n%s", full)
	}
}

func TestFormatList_TruncatesLongCommands(t *testing.T) {
	long := strings.Repeat("x", 100)
	got := formatList([]task.Info{{ID: "abcd1234", Command: long, Status: task.StatusRunning}})
	if !strings.Contains(got, strings.Repeat("x", listCommandSize)+"...") {
		t.Errorf("command not truncated:\n%s", got)
	}
	if strings.Contains(got, strings.Repeat("x", listCommandSize+1)) {
		t.Errorf("command too long:\n%s", got)
	}
}
