package sandbox

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// RunSync executes command and blocks until it completes or the deadline
// passes. The result is the trimmed combined stdout+stderr, annotated with
// the exit code when non-zero. Timeouts and spawn failures come back as
// text, not errors — the caller always gets a result it can show.
func (r *Runner) RunSync(command string, timeout time.Duration) string {
	p, err := r.spawn(command)
	if err != nil {
		r.logger.Warn("command spawn failed",
			slog.String("command", command),
			slog.String("error", err.Error()),
		)
		return fmt.Sprintf("Command execution failed: %v", err)
	}
	defer p.Close()

	// Collect combined output off the pipe while waiting. The collector
	// ends at EOF, which follows process-group exit.
	collected := make(chan string, 1)
	go func() {
		data, _ := io.ReadAll(p.out)
		collected <- string(data)
	}()

	if !p.Exited(timeout) {
		r.terminator.Terminate(p)
		r.logger.Warn("command timed out",
			slog.String("command", command),
			slog.Duration("timeout", timeout),
		)
		return fmt.Sprintf("Command timed out after %.0fs", timeout.Seconds())
	}

	var output string
	select {
	case output = <-collected:
	case <-time.After(drainGrace):
		// Grandchildren holding the pipe open can stall the collector past
		// process exit; return what arrived in time.
	}

	code := p.ExitCode()
	r.logger.Debug("command completed",
		slog.String("command", command),
		slog.Int("exit_code", code),
		slog.Int("output_bytes", len(output)),
	)
	return strings.TrimSpace(annotateExit(output, code))
}

// RunArgs executes a fixed argv (no shell interpretation) rooted at the
// confined directory. Used by the file tools, whose paths have already been
// resolved. The result contract matches RunSync.
func (r *Runner) RunArgs(args []string, timeout time.Duration) string {
	if len(args) == 0 {
		return "Command execution failed: empty command"
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Dir = r.root
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	done := make(chan struct{})
	var output []byte
	var runErr error
	go func() {
		output, runErr = cmd.CombinedOutput()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		}
		<-done
		return fmt.Sprintf("Command timed out after %.0fs", timeout.Seconds())
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			if errors.Is(runErr, exec.ErrNotFound) {
				return fmt.Sprintf("Command not found: %s", args[0])
			}
			return fmt.Sprintf("Command execution failed: %v", runErr)
		}
	}

	code := 0
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	return strings.TrimSpace(annotateExit(string(output), code))
}
