package task

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jkaninda/ngao/internal/sandbox"
)

const (
	// retentionWindow is how long terminal tasks remain queryable after
	// they end.
	retentionWindow = time.Hour

	// pruneSchedule drives the periodic retention sweep.
	pruneSchedule = "@every 10m"

	// idLen truncates generated UUIDs to a short, copy-friendly token.
	idLen = 8
)

// ErrNotFound is returned for operations on an unknown task id.
var ErrNotFound = errors.New("task not found")

// Manager owns the background task registry: creation, queries,
// termination, retention pruning, and mirroring state to the Store.
type Manager struct {
	mu    sync.Mutex
	tasks map[string]*Task

	runner  *sandbox.Runner
	store   *Store
	logger  *slog.Logger
	janitor *cron.Cron
	timeout time.Duration
}

// NewManager creates a Manager and reloads any persisted tasks. Entries
// that were running at snapshot time come back as lost. A snapshot that
// cannot be read is logged and skipped; the manager starts empty.
func NewManager(runner *sandbox.Runner, store *Store, timeout time.Duration, logger *slog.Logger) *Manager {
	m := &Manager{
		tasks:   make(map[string]*Task),
		runner:  runner,
		store:   store,
		logger:  logger,
		timeout: timeout,
	}

	snap, err := store.Load()
	if err != nil {
		logger.Warn("could not load task snapshot, starting empty",
			slog.String("path", store.Path()),
			slog.String("error", err.Error()),
		)
		return m
	}
	for id, e := range snap {
		m.tasks[id] = entryToTask(e)
	}
	if len(snap) > 0 {
		logger.Info("restored persisted tasks", slog.Int("count", len(snap)))
	}
	return m
}

// StartJanitor begins the periodic retention sweep.
func (m *Manager) StartJanitor() {
	m.janitor = cron.New()
	if _, err := m.janitor.AddFunc(pruneSchedule, m.Prune); err != nil {
		m.logger.Error("registering prune schedule", slog.String("error", err.Error()))
		return
	}
	m.janitor.Start()
}

// Stop halts the janitor. Running tasks are left alone — backgrounding
// means outliving callers, including shutdown of the request loop.
func (m *Manager) Stop() {
	if m.janitor != nil {
		m.janitor.Stop()
	}
}

// Create registers a new task for command and starts its supervisor. It
// returns the task id immediately, however long the command runs.
func (m *Manager) Create(command string) string {
	t := &Task{
		id:        uuid.NewString()[:idLen],
		command:   command,
		timeout:   m.timeout,
		status:    StatusPending,
		createdAt: time.Now(),
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.tasks[t.id] = t
	m.mu.Unlock()

	go m.supervise(t)

	// Opportunistic retention sweep, as well as the cron one.
	m.Prune()

	m.logger.Info("background task created",
		slog.String("task_id", t.id),
		slog.String("command", command),
	)
	return t.id
}

// Get returns the task with the given id.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List returns snapshots of all known tasks, oldest first.
func (m *Manager) List() []Info {
	m.mu.Lock()
	tasks := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		tasks = append(tasks, t)
	}
	m.mu.Unlock()

	infos := make([]Info, len(tasks))
	for i, t := range tasks {
		infos[i] = t.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt.Before(infos[j].CreatedAt) })
	return infos
}

// Terminate kills the task's process group and marks the task terminated.
// A task already in a terminal state is left untouched; the returned Info
// reflects that state and alreadyTerminal is true.
func (m *Manager) Terminate(id string) (info Info, alreadyTerminal bool, err error) {
	t, err := m.Get(id)
	if err != nil {
		return Info{}, false, err
	}

	if t.Info().Status.Terminal() {
		return t.Info(), true, nil
	}

	// Mark first so the supervisor's own finish cannot race in a different
	// terminal state, then stop the process.
	t.finish(StatusTerminated, nil)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.persist()

	m.logger.Info("background task terminated", slog.String("task_id", id))
	return t.Info(), false, nil
}

// Prune drops terminal tasks whose end time is older than the retention
// window, from memory and from the persisted snapshot.
func (m *Manager) Prune() {
	cutoff := time.Now().Add(-retentionWindow)

	m.mu.Lock()
	var removed []string
	for id, t := range m.tasks {
		info := t.Info()
		if info.Status.Terminal() && !info.EndTime.IsZero() && info.EndTime.Before(cutoff) {
			delete(m.tasks, id)
			removed = append(removed, id)
		}
	}
	m.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	m.logger.Debug("pruned expired tasks", slog.Int("count", len(removed)))
	m.persist()
	if err := m.store.Cleanup(); err != nil {
		m.logger.Warn("task snapshot cleanup failed", slog.String("error", err.Error()))
	}
}

// supervise runs the task's command to completion. It is the sole mutator
// of the task while the task runs.
func (m *Manager) supervise(t *Task) {
	defer close(t.done)

	if !t.markRunning() {
		return // terminated before the supervisor got scheduled
	}
	m.persist()

	p, err := m.runner.Start(t.command)
	if err != nil {
		t.appendOutput(fmt.Sprintf("ERROR: %v", err))
		t.finish(StatusFailed, nil)
		m.persist()
		m.logger.Warn("background task spawn failed",
			slog.String("task_id", t.id),
			slog.String("error", err.Error()),
		)
		return
	}
	defer p.Close()

	t.mu.Lock()
	t.cancel = func() { m.runner.Terminate(p) }
	t.mu.Unlock()

	outcome := m.runner.SuperviseProcess(p, t.command, t.timeout, t.appendOutput, nil)

	code := outcome.ExitCode
	switch {
	case outcome.TimedOut:
		t.appendOutput(fmt.Sprintf("Command terminated after %.0fs timeout", t.timeout.Seconds()))
		t.finish(StatusTimeout, &code)
	case code == 0:
		t.finish(StatusCompleted, &code)
	default:
		t.finish(StatusFailed, &code)
	}
	// If Terminate won the race above, finish was a no-op; still record the
	// observed exit code for the status report.
	t.recordExit(code)

	m.persist()
	m.logger.Info("background task finished",
		slog.String("task_id", t.id),
		slog.String("status", string(t.Info().Status)),
		slog.Int("exit_code", code),
	)
}

// persist mirrors the in-memory registry to the snapshot store. Failures
// are logged and skipped — the server keeps operating on memory alone.
func (m *Manager) persist() {
	m.mu.Lock()
	snap := make(Snapshot, len(m.tasks))
	for id, t := range m.tasks {
		snap[id] = taskToEntry(t)
	}
	m.mu.Unlock()

	if err := m.store.Save(snap); err != nil {
		m.logger.Warn("persisting task snapshot failed",
			slog.String("path", m.store.Path()),
			slog.String("error", err.Error()),
		)
	}
}

func taskToEntry(t *Task) Entry {
	info := t.Info()
	return Entry{
		TaskID:      info.ID,
		Command:     info.Command,
		Timeout:     info.Timeout.Seconds(),
		Status:      string(info.Status),
		StartTime:   toUnixSeconds(info.StartTime),
		EndTime:     toUnixSeconds(info.EndTime),
		ExitCode:    info.ExitCode,
		OutputLines: t.peekOutput(),
		CreatedAt:   toUnixSeconds(info.CreatedAt),
	}
}

func entryToTask(e Entry) *Task {
	done := make(chan struct{})
	close(done) // no supervisor owns a recovered task
	return &Task{
		id:        e.TaskID,
		command:   e.Command,
		timeout:   time.Duration(e.Timeout * float64(time.Second)),
		status:    Status(e.Status),
		startTime: fromUnixSeconds(e.StartTime),
		endTime:   fromUnixSeconds(e.EndTime),
		exitCode:  e.ExitCode,
		createdAt: fromUnixSeconds(e.CreatedAt),
		output:    append([]string(nil), e.OutputLines...),
		done:      done,
	}
}
