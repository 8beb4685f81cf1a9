// Package task manages background command executions: a registry of
// supervised tasks with drainable output buffers, periodic pruning, and a
// disk snapshot that lets task state survive server restarts.
package task

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a background task. Transitions are
// monotonic toward a terminal state; a task never re-enters running.
type Status string

const (
	StatusPending    Status = "pending"
	StatusRunning    Status = "running"
	StatusCompleted  Status = "completed"  // exit 0
	StatusFailed     Status = "failed"     // non-zero exit or internal error
	StatusTimeout    Status = "timeout"    // wall-clock ceiling exceeded
	StatusTerminated Status = "terminated" // explicit kill
	StatusLost       Status = "lost"       // was running when a snapshot was reloaded
)

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimeout, StatusTerminated, StatusLost:
		return true
	}
	return false
}

// Task is one background command execution. The supervisory goroutine is
// the sole mutator while the task runs; status and output queries from the
// request loop go through the task's own lock.
type Task struct {
	mu sync.Mutex

	id        string
	command   string
	timeout   time.Duration
	status    Status
	startTime time.Time
	endTime   time.Time
	exitCode  *int
	createdAt time.Time

	// output is append-only and drained FIFO by Output; drained lines are
	// not replayed.
	output []string

	// cancel asks the supervisor to terminate the subprocess. Nil for tasks
	// recovered from disk, whose process no longer belongs to this server.
	cancel func()

	// done is closed when the supervisory goroutine exits. Held so tasks
	// can be awaited during shutdown; recovered tasks get a closed channel.
	done chan struct{}
}

// Info is a point-in-time copy of a task's queryable state.
type Info struct {
	ID        string
	Command   string
	Timeout   time.Duration
	Status    Status
	StartTime time.Time
	EndTime   time.Time
	ExitCode  *int
	CreatedAt time.Time
}

// Elapsed returns the task's runtime so far, or its total runtime once ended.
func (i Info) Elapsed() time.Duration {
	if i.StartTime.IsZero() {
		return 0
	}
	end := i.EndTime
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(i.StartTime)
}

// ID returns the task's stable identifier.
func (t *Task) ID() string { return t.id }

// Info returns a snapshot of the task's state.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Info{
		ID:        t.id,
		Command:   t.command,
		Timeout:   t.timeout,
		Status:    t.status,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		ExitCode:  t.exitCode,
		CreatedAt: t.createdAt,
	}
}

// Output drains up to maxLines buffered output lines in FIFO order.
// maxLines <= 0 drains everything. Drained lines are consumed.
func (t *Task) Output(maxLines int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.output)
	if maxLines > 0 && maxLines < n {
		n = maxLines
	}
	lines := make([]string, n)
	copy(lines, t.output[:n])
	t.output = t.output[n:]
	return lines
}

// peekOutput copies the buffered lines without consuming them. Used when
// snapshotting to disk so a later Output drain still sees them.
func (t *Task) peekOutput() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.output...)
}

// appendOutput adds a line to the buffer.
func (t *Task) appendOutput(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = append(t.output, line)
}

// markRunning transitions pending -> running and stamps the start time.
// Returns false if the task already reached a terminal state (terminated
// before its supervisor got scheduled).
func (t *Task) markRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = StatusRunning
	t.startTime = time.Now()
	return true
}

// finish records a terminal status. It is a no-op when the task is already
// terminal, keeping transitions monotonic (a Terminate racing completion
// cannot resurrect or re-stamp the task).
func (t *Task) finish(status Status, exitCode *int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return false
	}
	t.status = status
	t.exitCode = exitCode
	t.endTime = time.Now()
	return true
}

// recordExit fills in the exit code if finish did not set one, e.g. when an
// explicit Terminate marked the task before the process was reaped.
func (t *Task) recordExit(code int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.exitCode == nil {
		t.exitCode = &code
	}
}

// Done returns a channel closed when the supervisory goroutine has exited.
func (t *Task) Done() <-chan struct{} { return t.done }
