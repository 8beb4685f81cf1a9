// Package classify inspects command text to pick timeout policy and emit
// advisory warnings. Classification is purely pattern based and never blocks
// execution by itself.
package classify

import (
	"regexp"
	"time"
)

// Timeout policies. Per-command deadlines are selected from these based on
// the execution mode and the classification result.
const (
	DefaultTimeout    = 3600 * time.Second // synchronous execution ceiling
	StreamTimeout     = 300 * time.Second  // per-call ceiling for streaming runs
	BackgroundTimeout = 3600 * time.Second // ceiling for detached background jobs
	NetworkTimeout    = 60 * time.Second   // shorter ceiling for network-bound commands
	ReadLineTimeout   = 2 * time.Second    // bound for a single non-blocking line read
)

// Result is the classification of a single command string.
type Result struct {
	// Interactive means the command may prompt for input and hang waiting.
	Interactive bool

	// Network means the command reaches out over the network and deserves a
	// shorter deadline.
	Network bool

	// PotentiallyHanging means the command is known to run indefinitely
	// (pagers, follow modes, servers).
	PotentiallyHanging bool
}

// Risky returns true when any classification flag is set.
func (r Result) Risky() bool {
	return r.Interactive || r.Network || r.PotentiallyHanging
}

var (
	interactivePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bsudo\b`),
		regexp.MustCompile(`(?i)\bssh\b`),
		regexp.MustCompile(`(?i)\bgit\s+push\b`),
		regexp.MustCompile(`(?i)\bapt(-get)?\s+install\b`),
		regexp.MustCompile(`(?i)\byum\s+install\b`),
		regexp.MustCompile(`(?i)\bpip\s+install\b`),
		regexp.MustCompile(`(?i)\bnpm\s+install\b`),
		regexp.MustCompile(`(?i)\bread\b`),
		regexp.MustCompile(`(?i)\bselect\b`),
		regexp.MustCompile(`(?i)\bconfirm\b`),
		regexp.MustCompile(`(?i)\bpasswd\b`),
		regexp.MustCompile(`(?i)--interactive\b`),
		regexp.MustCompile(`(^|\s)-i(\s|$)`),
	}

	networkPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcurl\b`),
		regexp.MustCompile(`(?i)\bwget\b`),
		regexp.MustCompile(`(?i)\bnc\b`),
		regexp.MustCompile(`(?i)\bnetcat\b`),
		regexp.MustCompile(`(?i)\btelnet\b`),
		regexp.MustCompile(`(?i)\bping\b`),
		regexp.MustCompile(`(?i)https?://`),
		regexp.MustCompile(`(?i)ftp://`),
	}

	hangingPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btail\s+-[a-z]*f\b`),
		regexp.MustCompile(`(?i)\bwatch\b`),
		regexp.MustCompile(`(?i)\btop\b`),
		regexp.MustCompile(`(?i)\bhtop\b`),
		regexp.MustCompile(`(?i)\bless\b`),
		regexp.MustCompile(`(?i)\bmore\b`),
		regexp.MustCompile(`(?i)\bvi(m)?\b`),
		regexp.MustCompile(`(?i)\bnano\b`),
		regexp.MustCompile(`(?i)\byes\b`),
		regexp.MustCompile(`(?i)-f\s*$`),
		regexp.MustCompile(`(?i)--follow\b`),
		regexp.MustCompile(`(?i)\bserve\b`),
		regexp.MustCompile(`(?i)\b(python3?\s+-m\s+http\.server)\b`),
	}
)

// Classify inspects a command string. It is side-effect free and independent
// of pattern order, so it can be unit tested against literal commands.
func Classify(command string) Result {
	return Result{
		Interactive:        matchAny(interactivePatterns, command),
		Network:            matchAny(networkPatterns, command),
		PotentiallyHanging: matchAny(hangingPatterns, command),
	}
}

// TimeoutFor selects the effective deadline for a non-background run.
// Network-bound commands get the shorter network ceiling; everything else
// gets the default.
func TimeoutFor(command string) time.Duration {
	if Classify(command).Network {
		return NetworkTimeout
	}
	return DefaultTimeout
}

// Warning returns advisory text for risky commands, or "" when there is
// nothing to say. The warning never blocks execution.
func Warning(command string) string {
	c := Classify(command)
	switch {
	case c.Interactive:
		return "WARNING: command may require user input and could hang; consider a non-interactive alternative"
	case c.PotentiallyHanging:
		return "WARNING: command may run indefinitely; consider bounding it (e.g. with timeout(1)) or running it in the background"
	default:
		return ""
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}
