package task

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jkaninda/ngao/internal/lockutil"
)

// maxSnapshotAge is the absolute age after which a persisted task is
// discarded on load regardless of status.
const maxSnapshotAge = 24 * time.Hour

// lostNotice is the synthetic output line appended to recovered tasks.
const lostNotice = "[task lost: server restarted while the task was running]"

// Entry is the serialized form of one task in the snapshot file. Times are
// unix seconds; zero means unset.
type Entry struct {
	TaskID      string   `json:"task_id"`
	Command     string   `json:"command"`
	Timeout     float64  `json:"timeout"`
	Status      string   `json:"status"`
	StartTime   float64  `json:"start_time"`
	EndTime     float64  `json:"end_time"`
	ExitCode    *int     `json:"exit_code"`
	OutputLines []string `json:"output_lines"`
	CreatedAt   float64  `json:"created_at"`
}

// Snapshot is the full on-disk registry state, keyed by task id.
type Snapshot map[string]Entry

// Store persists registry snapshots to a single JSON file with atomic
// replacement. Concurrent supervisors may save at any time, so every file
// operation runs under an advisory file lock in addition to whatever
// in-memory locking the caller holds.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a Store writing to path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the snapshot file location.
func (s *Store) Path() string { return s.path }

// Save atomically replaces the snapshot file with snap: the JSON is written
// to a temp file in the same directory, then renamed over the target.
func (s *Store) Save(snap Snapshot) error {
	return lockutil.WithFileLock(s.lockPath(), func() error {
		data, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding task snapshot: %w", err)
		}

		dir := filepath.Dir(s.path)
		tmp, err := os.CreateTemp(dir, ".tasks-*.tmp")
		if err != nil {
			return fmt.Errorf("creating temp snapshot: %w", err)
		}
		defer os.Remove(tmp.Name())

		if _, err := tmp.Write(data); err != nil {
			tmp.Close()
			return fmt.Errorf("writing temp snapshot: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("closing temp snapshot: %w", err)
		}
		if err := os.Rename(tmp.Name(), s.path); err != nil {
			return fmt.Errorf("replacing snapshot %q: %w", s.path, err)
		}
		return nil
	})
}

// Load reads the snapshot file. An absent file yields an empty snapshot.
// Entries older than maxSnapshotAge are discarded; entries recorded as
// running or pending belonged to a process that no longer exists in this
// server instance and are remapped to lost, with a synthetic output line.
func (s *Store) Load() (Snapshot, error) {
	raw, err := s.loadRaw()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	snap := make(Snapshot, len(raw))
	for id, e := range raw {
		if age := now.Sub(fromUnixSeconds(e.CreatedAt)); age > maxSnapshotAge {
			s.logger.Debug("discarding expired task snapshot",
				slog.String("task_id", id),
				slog.Duration("age", age),
			)
			continue
		}
		if st := Status(e.Status); !st.Terminal() {
			e.Status = string(StatusLost)
			e.OutputLines = append(e.OutputLines, lostNotice)
			if e.EndTime == 0 {
				e.EndTime = toUnixSeconds(now)
			}
			s.logger.Info("recovered task marked lost", slog.String("task_id", id))
		}
		snap[id] = e
	}
	return snap, nil
}

// Cleanup rewrites the snapshot file keeping only non-expired entries.
func (s *Store) Cleanup() error {
	raw, err := s.loadRaw()
	if err != nil {
		return err
	}
	now := time.Now()
	kept := make(Snapshot, len(raw))
	for id, e := range raw {
		if now.Sub(fromUnixSeconds(e.CreatedAt)) <= maxSnapshotAge {
			kept[id] = e
		}
	}
	if len(kept) == len(raw) {
		return nil
	}
	return s.Save(kept)
}

func (s *Store) loadRaw() (Snapshot, error) {
	var snap Snapshot
	err := lockutil.WithFileLock(s.lockPath(), func() error {
		data, err := os.ReadFile(s.path)
		if os.IsNotExist(err) {
			snap = Snapshot{}
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading snapshot %q: %w", s.path, err)
		}
		if err := json.Unmarshal(data, &snap); err != nil {
			return fmt.Errorf("parsing snapshot %q: %w", s.path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) lockPath() string {
	return s.path + ".lock"
}

func toUnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / float64(time.Second)
}

func fromUnixSeconds(sec float64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(0, int64(sec*float64(time.Second)))
}
