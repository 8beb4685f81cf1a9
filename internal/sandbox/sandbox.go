// Package sandbox runs shell commands rooted at the confined directory and
// supervises them against hangs: bounded line reads, escalating
// process-group termination, and three execution strategies (synchronous,
// streaming with progress, and the supervised loop backing background tasks).
//
// The confinement here is the working directory only. Path restriction for
// file tools lives in safepath; nothing in this package inspects what a
// command opens.
package sandbox

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// stallThreshold is how long a streaming command may stay silent before
	// the supervisor probes it with SIGCONT and notes a possible stall.
	stallThreshold = 30 * time.Second

	// maxReadErrors is the ceiling on broken reads before the supervisor
	// gives up and terminates the process.
	maxReadErrors = 5

	// progressEveryNLines and progressMinInterval throttle progress
	// notifications; importance keywords bypass the throttle.
	progressEveryNLines = 10
	progressMinInterval = 2 * time.Second

	// drainGrace bounds the final drain of buffered output after the
	// supervision loop decides the run is over.
	drainGrace = 2 * time.Second

	previewLen = 100
)

// ProgressFunc receives incremental progress text for a streaming run. It is
// invoked zero or more times, always before the run's result is returned.
type ProgressFunc func(requestID, text string)

// Outcome summarizes a supervised run for the caller that owns the output.
type Outcome struct {
	// ExitCode is the signed exit code: the process exit status, or -N when
	// the process died from signal N. Meaningless when SpawnErr is set.
	ExitCode int

	// TimedOut is set when the run was cut off by its deadline or by the
	// supervisor's error ceilings.
	TimedOut bool

	// SpawnErr is set when the command could not be started at all.
	SpawnErr error
}

// Runner executes commands with the confined root as working directory.
type Runner struct {
	root       string
	terminator *Terminator
	logger     *slog.Logger
}

// NewRunner creates a Runner rooted at root.
func NewRunner(root string, logger *slog.Logger) *Runner {
	return &Runner{
		root:       root,
		terminator: NewTerminator(logger),
		logger:     logger,
	}
}

// Root returns the working directory commands run in.
func (r *Runner) Root() string {
	return r.root
}

// Process is one spawned command plus the plumbing the supervisor needs:
// a timed line reader over combined stdout+stderr and an exit latch.
type Process struct {
	cmd *exec.Cmd
	out *os.File // read end of the combined output pipe

	readerOnce sync.Once
	reader     *lineReader

	done  chan struct{} // closed once Wait has returned
	state *os.ProcessState
}

// Reader returns the timed line reader over combined output, starting its
// worker on first use. Callers must not mix Reader with direct reads of the
// pipe — the synchronous strategy reads the pipe itself and never calls this.
func (p *Process) Reader() *lineReader {
	p.readerOnce.Do(func() {
		p.reader = newLineReader(p.out)
	})
	return p.reader
}

// spawn starts command under /bin/sh in its own process group, with stdout
// and stderr merged into a single pipe.
func (r *Runner) spawn(command string) (*Process, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = r.root
	// Own process group, so termination signals reach shell-spawned children.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("starting command: %w", err)
	}
	// The child holds its own copy of the write end; the parent's copy must
	// close so the reader sees EOF when the process group is done writing.
	pw.Close()

	p := &Process{
		cmd:  cmd,
		out:  pr,
		done: make(chan struct{}),
	}

	go func() {
		_ = cmd.Wait()
		p.state = cmd.ProcessState
		close(p.done)
	}()

	r.logger.Debug("spawned command",
		slog.String("command", command),
		slog.Int("pid", cmd.Process.Pid),
	)
	return p, nil
}

// Pid returns the direct child's pid.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has been reaped, waiting up to d.
func (p *Process) Exited(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-p.done:
			return true
		default:
			return false
		}
	}
	select {
	case <-p.done:
		return true
	case <-time.After(d):
		return false
	}
}

// ExitCode returns the signed exit code once the process has exited:
// the exit status, or -N when the process died from signal N. Returns 0
// when called before exit.
func (p *Process) ExitCode() int {
	if p.state == nil {
		return 0
	}
	if ws, ok := p.state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return -int(ws.Signal())
	}
	return p.state.ExitCode()
}

// Close releases the output pipe. Safe after the reader has hit EOF.
func (p *Process) Close() {
	p.out.Close()
}

// exitStatusLine renders a human-readable status for a signed exit code.
func exitStatusLine(code int, elapsed time.Duration) string {
	secs := elapsed.Seconds()
	switch {
	case code == 0:
		return fmt.Sprintf("Command completed successfully in %.1fs", secs)
	case code == -int(syscall.SIGTERM):
		return fmt.Sprintf("Command terminated (SIGTERM) after %.1fs", secs)
	case code == -int(syscall.SIGKILL):
		return fmt.Sprintf("Command killed (SIGKILL) after %.1fs", secs)
	case code < 0:
		return fmt.Sprintf("Command stopped by signal %d after %.1fs", -code, secs)
	default:
		return fmt.Sprintf("Command failed with exit code %d after %.1fs", code, secs)
	}
}

// annotateExit appends the exit-code annotation for non-zero codes.
func annotateExit(output string, code int) string {
	if code == 0 {
		return output
	}
	if output != "" {
		output += "\n"
	}
	return output + fmt.Sprintf("[Exit code: %d]", code)
}

// truncateLine shortens a line for progress previews.
func truncateLine(line string, max int) string {
	if len(line) <= max {
		return line
	}
	return line[:max] + "..."
}

// importantLine reports whether a line should bypass progress throttling.
func importantLine(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range []string{"error", "warning", "complete", "done", "finished", "failed"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
