package ledger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lavallee/cub/internal/fsutil"
	"github.com/lavallee/cub/internal/logx"
)

// Writer is the ledger's single-writer mutation surface (§4.8). Entry and
// index writes use temp-file+rename atomicity and serialise against one
// another via an exclusive file lock on the ledger root. WritePromptFile
// writes atomically without taking the lock, and OpenHarnessLog returns a
// plain file opened in place.
type Writer struct {
	layout layout
	logger logx.Logger
}

func NewWriter(root string) *Writer {
	return &Writer{layout: newLayout(root), logger: logx.NewComponentLogger("ledger:writer")}
}

func (w *Writer) withLock(fn func() error) error {
	lock, err := fsutil.AcquireExclusive(w.layout.lockPath())
	if err != nil {
		return fmt.Errorf("ledger_io: %w", err)
	}
	defer lock.Release()
	return fn()
}

func readEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ledger_io: corrupt entry %s: %w", path, err)
	}
	return &e, nil
}

func writeEntry(path string, e *Entry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger_io: %w", err)
	}
	return fsutil.AtomicWriteFile(path, data, 0o644)
}

// CreateTaskEntry is idempotent: it creates a new entry capturing the task
// snapshot, or returns the existing one untouched if already present.
func (w *Writer) CreateTaskEntry(taskID string, snapshot TaskSnapshot, lineage Lineage) (*Entry, error) {
	var result *Entry
	err := w.withLock(func() error {
		path := w.layout.taskEntryPath(taskID)
		existing, err := readEntry(path)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}
		snapshot.CapturedAt = time.Now()
		e := &Entry{
			ID:      taskID,
			Version: schemaVersion,
			Lineage: lineage,
			Task:    snapshot,
			Source:  SourceLoop,
		}
		e.Verification.Status = VerificationPending
		if err := writeEntry(path, e); err != nil {
			return err
		}
		if err := w.appendIndexLocked(IndexRecord{ID: taskID, Kind: "task", EpicID: lineage.EpicID, UpdatedAt: time.Now()}); err != nil {
			return err
		}
		result = e
		return nil
	})
	return result, err
}

// AppendAttempt durably appends an attempt to a task's entry, enforcing
// strict monotone attempt numbering (I1).
func (w *Writer) AppendAttempt(taskID string, attempt Attempt) error {
	return w.withLock(func() error {
		path := w.layout.taskEntryPath(taskID)
		e, err := readEntry(path)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("ledger_io: no entry for task %s; create it first", taskID)
		}
		attempt.AttemptNumber = len(e.Attempts) + 1
		e.Attempts = append(e.Attempts, attempt)
		return writeEntry(path, e)
	})
}

// WritePromptFile writes the composed prompt with YAML frontmatter.
func (w *Writer) WritePromptFile(taskID string, attemptNumber int, prompt string, frontmatter map[string]string) error {
	var body string
	body += "---\n"
	for _, k := range sortedKeys(frontmatter) {
		body += fmt.Sprintf("%s: %q\n", k, frontmatter[k])
	}
	body += "---\n\n"
	body += prompt
	return fsutil.AtomicWriteFile(w.layout.promptPath(taskID, attemptNumber), []byte(body), 0o644)
}

// OpenHarnessLog opens (creating parent dirs) the raw-output sink for one
// attempt. The caller is responsible for closing it.
func (w *Writer) OpenHarnessLog(taskID string, attemptNumber int) (io.WriteCloser, error) {
	path := w.layout.harnessLogPath(taskID, attemptNumber)
	if err := os.MkdirAll(w.layout.attemptsDir(taskID), 0o755); err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	return f, nil
}

// FinalizeTaskEntry sets the outcome, drift, and verification, and advances
// workflow to dev_complete.
func (w *Writer) FinalizeTaskEntry(taskID string, outcome Outcome, drift *Drift, verification Verification) error {
	return w.withLock(func() error {
		path := w.layout.taskEntryPath(taskID)
		e, err := readEntry(path)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("ledger_io: no entry for task %s", taskID)
		}
		outcome.CompletedAt = time.Now()
		outcome.TotalAttempts = len(e.Attempts)
		e.Outcome = &outcome
		e.Drift = drift
		e.Verification = verification
		e.Workflow.Stage = StageDevComplete
		e.Workflow.LastUpdated = time.Now()
		e.StateHistory = append(e.StateHistory, StateTransition{
			Stage: StageDevComplete, At: time.Now(), Reason: "task closed",
		})
		if err := writeEntry(path, e); err != nil {
			return err
		}
		success := outcome.Success
		return w.appendIndexLocked(IndexRecord{ID: taskID, Kind: "task", EpicID: e.Lineage.EpicID, Stage: StageDevComplete, Success: &success, UpdatedAt: time.Now()})
	})
}

// UpdateWorkflowStage advances (or moves) an entry's workflow stage. A
// `released` entry refuses a `dev_complete` transition without override.
func (w *Writer) UpdateWorkflowStage(taskID string, stage WorkflowStage, reason, by string, override bool) error {
	return w.withLock(func() error {
		path := w.layout.taskEntryPath(taskID)
		e, err := readEntry(path)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("ledger_io: no entry for task %s", taskID)
		}
		if e.Workflow.Stage == StageReleased && stage == StageDevComplete && !override {
			return fmt.Errorf("%w: refusing released -> dev_complete without override", ErrInvalidTransition)
		}
		e.Workflow.Stage = stage
		e.Workflow.LastUpdated = time.Now()
		e.StateHistory = append(e.StateHistory, StateTransition{Stage: stage, At: time.Now(), By: by, Reason: reason})
		if err := writeEntry(path, e); err != nil {
			return err
		}
		return w.appendIndexLocked(IndexRecord{ID: taskID, Kind: "task", EpicID: e.Lineage.EpicID, Stage: stage, UpdatedAt: time.Now()})
	})
}

// ErrInvalidTransition is returned by UpdateWorkflowStage for a disallowed move.
var ErrInvalidTransition = fmt.Errorf("invalid workflow transition")

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
