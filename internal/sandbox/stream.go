package sandbox

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jkaninda/ngao/internal/classify"
)

// RunStream executes command while emitting throttled progress through
// progress, then returns the full transcript. Progress is a side channel:
// every notification is sent before this function returns.
func (r *Runner) RunStream(command, requestID string, timeout time.Duration, progress ProgressFunc) string {
	notify := func(text string) {}
	if progress != nil {
		notify = func(text string) { progress(requestID, text) }
	}

	notify(fmt.Sprintf("Starting command: %s", command))
	start := time.Now()

	var transcript []string
	outcome := r.Supervise(command, timeout, func(line string) {
		transcript = append(transcript, line)
	}, notify)

	if outcome.SpawnErr != nil {
		notify(fmt.Sprintf("Command failed: %v", outcome.SpawnErr))
		return fmt.Sprintf("Command execution failed: %v", outcome.SpawnErr)
	}

	elapsed := time.Since(start)
	if outcome.TimedOut {
		transcript = append(transcript, fmt.Sprintf("Command terminated after %.0fs timeout", timeout.Seconds()))
	}

	if outcome.ExitCode == 0 && !outcome.TimedOut {
		notify(fmt.Sprintf("Command completed successfully in %.1fs", elapsed.Seconds()))
	} else {
		notify(fmt.Sprintf("Command finished with exit code %d after %.1fs", outcome.ExitCode, elapsed.Seconds()))
	}

	out := annotateExit(strings.Join(transcript, "\n"), outcome.ExitCode)
	if out != "" {
		out += "\n"
	}
	return out + exitStatusLine(outcome.ExitCode, elapsed)
}

// Start spawns command without supervising it. The caller owns the process:
// it must run SuperviseProcess (or Terminate) and Close it. Background tasks
// use this split so an external Terminate call can reach the process while
// its supervisor is mid-loop.
func (r *Runner) Start(command string) (*Process, error) {
	return r.spawn(command)
}

// Terminate runs the escalating process-group termination against p.
func (r *Runner) Terminate(p *Process) {
	r.terminator.Terminate(p)
}

// Supervise runs command under the full read/probe/terminate loop, handing
// each output line to onLine. notify receives throttled progress text and
// may be nil. This is the machinery shared by the streaming strategy and
// background tasks; background runs pass a nil notify.
func (r *Runner) Supervise(command string, timeout time.Duration, onLine func(string), notify func(string)) Outcome {
	p, err := r.spawn(command)
	if err != nil {
		return Outcome{SpawnErr: err}
	}
	defer p.Close()
	return r.SuperviseProcess(p, command, timeout, onLine, notify)
}

// SuperviseProcess runs the read/probe/terminate loop over an already
// started process. It does not close p.
func (r *Runner) SuperviseProcess(p *Process, command string, timeout time.Duration, onLine func(string), notify func(string)) Outcome {
	if notify == nil {
		notify = func(string) {}
	}

	var (
		start       = time.Now()
		deadline    = start.Add(timeout)
		lastOutput  = start
		lastNotice  = start
		lineCount   = 0
		readErrors  = 0
		stallProbed = false
		timedOut    = false
	)

	reader := p.Reader()

loop:
	for {
		line, status, rerr := reader.ReadLine(classify.ReadLineTimeout)
		now := time.Now()

		switch status {
		case readOK:
			lastOutput = now
			stallProbed = false
			if line == "" {
				continue
			}
			lineCount++
			onLine(line)

			if lineCount%progressEveryNLines == 0 ||
				now.Sub(lastNotice) >= progressMinInterval ||
				importantLine(line) {
				notify(fmt.Sprintf("Line %d: %s [%.1fs]",
					lineCount, truncateLine(line, previewLen), now.Sub(start).Seconds()))
				lastNotice = now
			}

		case readEOF:
			break loop

		case readErr:
			readErrors++
			r.logger.Debug("read error on command output",
				slog.String("command", command),
				slog.String("error", rerr.Error()),
			)
			if readErrors >= maxReadErrors {
				r.logger.Warn("too many read errors, terminating command",
					slog.String("command", command),
					slog.Int("errors", readErrors),
				)
				timedOut = true
				r.terminator.Terminate(p)
				break loop
			}

		case readTimeout:
			// Idle window. Probe on the stall threshold; the hard deadline
			// below always wins regardless of idle-window resets.
			if idle := now.Sub(lastOutput); idle >= stallThreshold && !stallProbed {
				r.terminator.Probe(p)
				stallProbed = true
				notify(fmt.Sprintf("Possible stall: no output for %.0fs", idle.Seconds()))
			}
		}

		if time.Now().After(deadline) {
			r.logger.Warn("command exceeded deadline, terminating",
				slog.String("command", command),
				slog.Duration("timeout", timeout),
			)
			timedOut = true
			r.terminator.Terminate(p)
			break loop
		}
	}

	// Final drain: buffered lines produced just before exit.
	for _, line := range reader.Drain(drainGrace) {
		if line != "" {
			onLine(line)
		}
	}

	p.Exited(drainGrace)
	return Outcome{
		ExitCode: p.ExitCode(),
		TimedOut: timedOut,
	}
}
