package sandbox

import (
	"bufio"
	"io"
	"time"
)

// readStatus classifies the outcome of a single timed line read.
type readStatus int

const (
	// readOK means a line was produced. The line may be empty — a blank
	// line read successfully is distinct from a timeout.
	readOK readStatus = iota

	// readTimeout means no line arrived within the bound. The underlying
	// read keeps running; a line it eventually produces is delivered by a
	// later call.
	readTimeout

	// readEOF means the stream is exhausted: the process closed its output.
	readEOF

	// readErr means the stream broke before EOF.
	readErr
)

// lineReader provides bounded line reads over a stream that has no native
// read timeout. A single worker goroutine performs the blocking reads and
// hands lines over a channel; ReadLine merely waits on that channel with a
// deadline. When ReadLine times out the worker is abandoned, not joined —
// it stays blocked until the process produces data or exits. That leak is
// bounded by the process's own lifetime, which the terminator enforces.
type lineReader struct {
	lines chan readEvent
}

type readEvent struct {
	line string
	err  error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{lines: make(chan readEvent, 64)}
	go lr.scan(r)
	return lr
}

func (lr *lineReader) scan(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		lr.lines <- readEvent{line: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		lr.lines <- readEvent{err: err}
	}
	close(lr.lines)
}

// ReadLine waits up to timeout for the next line. The returned line is only
// meaningful when status is readOK; err only when status is readErr.
func (lr *lineReader) ReadLine(timeout time.Duration) (line string, status readStatus, err error) {
	select {
	case ev, ok := <-lr.lines:
		if !ok {
			return "", readEOF, nil
		}
		if ev.err != nil {
			return "", readErr, ev.err
		}
		return ev.line, readOK, nil
	case <-time.After(timeout):
		return "", readTimeout, nil
	}
}

// Drain collects whatever lines are already buffered or arrive within the
// grace window, stopping early at EOF.
func (lr *lineReader) Drain(grace time.Duration) []string {
	var lines []string
	deadline := time.Now().Add(grace)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return lines
		}
		line, status, _ := lr.ReadLine(remaining)
		switch status {
		case readOK:
			lines = append(lines, line)
		case readTimeout, readEOF, readErr:
			return lines
		}
	}
}
