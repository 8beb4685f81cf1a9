package sandbox

import (
	"log/slog"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// termWait is how long the terminator waits for a process to honor
	// SIGTERM before escalating.
	termWait = 5 * time.Second

	// killWait is the final confirmation window after SIGKILL.
	killWait = 2 * time.Second
)

// Terminator stops a process and everything it spawned. Escalation is
// strict: SIGTERM to the process group, bounded wait, SIGKILL to the group,
// SIGKILL to the direct child in case group delivery failed, final bounded
// wait. Every signal error is swallowed and logged — the caller only needs
// supervision to stop, so termination never reports failure.
//
// POSIX only: the group signal relies on Setpgid at spawn. On a platform
// without process groups this would degrade to direct-child signaling and
// orphaned grandchildren could survive.
type Terminator struct {
	logger *slog.Logger
}

// NewTerminator creates a Terminator.
func NewTerminator(logger *slog.Logger) *Terminator {
	return &Terminator{logger: logger}
}

// Terminate runs the full escalation against p. Idempotent: calling it on
// an already-dead process finds it exited and returns immediately.
func (t *Terminator) Terminate(p *Process) {
	if p.Exited(0) {
		return
	}
	pid := p.Pid()

	t.signalGroup(pid, unix.SIGTERM, "sigterm")
	if p.Exited(termWait) {
		t.logger.Debug("process exited after SIGTERM", slog.Int("pid", pid))
		return
	}

	t.signalGroup(pid, unix.SIGKILL, "sigkill")

	// Direct-child fallback: group delivery can fail (permissions, or the
	// child moved itself to another group).
	if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		t.logger.Debug("direct kill failed",
			slog.Int("pid", pid),
			slog.String("error", err.Error()),
		)
	}

	if !p.Exited(killWait) {
		// Non-fatal anomaly: the caller already got a timeout/terminated
		// result, so this is logged and dropped.
		t.logger.Warn("process not confirmed dead after escalation",
			slog.Int("pid", pid),
		)
	}
}

// Probe sends SIGCONT to the process group as a liveness probe for an idle
// process. It is best-effort diagnostics only — nothing assumes it revives
// a genuinely stuck process.
func (t *Terminator) Probe(p *Process) {
	if p.Exited(0) {
		return
	}
	t.signalGroup(p.Pid(), unix.SIGCONT, "sigcont")
}

func (t *Terminator) signalGroup(pid int, sig unix.Signal, name string) {
	// Negative pid addresses the whole process group.
	if err := unix.Kill(-pid, sig); err != nil && err != unix.ESRCH {
		t.logger.Debug("group signal failed",
			slog.String("signal", name),
			slog.Int("pgid", pid),
			slog.String("error", err.Error()),
		)
	}
}
