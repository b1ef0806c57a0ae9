// Package runsession implements the run-session file and the active-run
// symlink contract (§3.2): one record per loop invocation, with a
// well-known symlink marking which one currently owns the project.
package runsession

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/lavallee/cub/internal/fsutil"
)

// Phase is the run session's lifecycle position.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseRunning      Phase = "running"
	PhaseCompleted    Phase = "completed"
	PhaseFailed       Phase = "failed"
	PhaseStopped      Phase = "stopped"
	PhaseOrphaned     Phase = "orphaned"
)

// Filters narrows which tasks a run considers.
type Filters struct {
	Task   string `json:"task,omitempty"`
	Parent string `json:"parent,omitempty"`
	Label  string `json:"label,omitempty"`
}

// Session is the persisted record of one loop invocation.
type Session struct {
	RunID          string    `json:"run_id"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	Harness        string    `json:"harness"`
	Filters        Filters   `json:"filters"`
	Phase          Phase     `json:"phase"`
	TasksCompleted int       `json:"tasks_completed"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	ProjectDir     string    `json:"project_dir"`
}

// NewRunID generates a timestamped run id with 8 random hex characters
// appended, e.g. cub-20260731-143012-3f9a1c2e.
func NewRunID(now time.Time) string {
	return fmt.Sprintf("cub-%s-%s", now.Format("20060102-150405"), uuid.New().String()[:8])
}

// Manager owns the run-sessions directory and active-run symlink for one
// project's .cub root.
type Manager struct {
	cubRoot string
}

func NewManager(cubRoot string) *Manager {
	return &Manager{cubRoot: cubRoot}
}

func (m *Manager) sessionsDir() string  { return filepath.Join(m.cubRoot, "run-sessions") }
func (m *Manager) sessionPath(runID string) string {
	return filepath.Join(m.sessionsDir(), runID+".json")
}
func (m *Manager) activeRunLink() string { return filepath.Join(m.cubRoot, "active-run") }

// Start creates the session file and installs the active-run symlink. If an
// existing active-run points at a dead process, that session is marked
// orphaned and this run takes ownership.
func (m *Manager) Start(s Session) error {
	if err := m.reclaimIfOrphanedLocked(); err != nil {
		return err
	}

	path := m.sessionPath(s.RunID)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("runsession: %w", err)
	}
	if err := fsutil.AtomicWriteFile(path, data, 0o644); err != nil {
		return err
	}

	link := m.activeRunLink()
	_ = os.Remove(link)
	if err := os.Symlink(path, link); err != nil {
		return fmt.Errorf("runsession: install active-run symlink: %w", err)
	}
	return nil
}

// Update rewrites the session file in place.
func (m *Manager) Update(s Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("runsession: %w", err)
	}
	return fsutil.AtomicWriteFile(m.sessionPath(s.RunID), data, 0o644)
}

// Finish sets the final phase and clears the active-run symlink if it still
// points at this run.
func (m *Manager) Finish(s Session, phase Phase) error {
	s.Phase = phase
	if err := m.Update(s); err != nil {
		return err
	}
	if target, err := os.Readlink(m.activeRunLink()); err == nil && target == m.sessionPath(s.RunID) {
		_ = os.Remove(m.activeRunLink())
	}
	return nil
}

// ActiveSession returns the currently active session, if the symlink
// exists and resolves.
func (m *Manager) ActiveSession() (*Session, error) {
	target, err := os.Readlink(m.activeRunLink())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("runsession: %w", err)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("runsession: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("runsession: corrupt session file %s: %w", target, err)
	}
	return &s, nil
}

// reclaimIfOrphanedLocked checks whether the current active-run's owning
// process is still alive; if not, marks it orphaned so the new run can
// proceed.
func (m *Manager) reclaimIfOrphanedLocked() error {
	active, err := m.ActiveSession()
	if err != nil || active == nil {
		return nil
	}
	if Alive(active.PID) {
		return nil
	}
	active.Phase = PhaseOrphaned
	return m.Update(*active)
}

// Alive reports whether pid refers to a live, signalable process (the
// signal-0 liveness check).
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
