package forensics

import (
	"sort"

	"github.com/lavallee/cub/internal/ledger"
)

// SkipReason names why a session produced no ledger entry.
type SkipReason string

const (
	SkipNone              SkipReason = ""
	SkipNoTaskAssociation SkipReason = "no_task_association"
	SkipEntryExists       SkipReason = "entry_exists"
)

// ReconcileResult reports the outcome of reconciling one session.
type ReconcileResult struct {
	SessionID string
	TaskID    string
	Skipped   SkipReason
	Warnings  []string
}

// Reconciler converts forensics sessions into ledger entries (§4.10).
type Reconciler struct {
	pipeline *Pipeline
	writer   *ledger.Writer
	reader   *ledger.Reader
}

func NewReconciler(pipeline *Pipeline, writer *ledger.Writer, reader *ledger.Reader) *Reconciler {
	return &Reconciler{pipeline: pipeline, writer: writer, reader: reader}
}

// Reconcile processes sessionID. Without force, an already-reconciled
// session (entry_exists) and a claimless session (no_task_association) are
// both no-ops reported via Skipped.
func (r *Reconciler) Reconcile(sessionID string, force bool) (ReconcileResult, error) {
	events, warnings, err := r.pipeline.ReadSession(sessionID)
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{SessionID: sessionID, Warnings: warnings}

	claims := claimsInOrder(events)
	if len(claims) == 0 {
		result.Skipped = SkipNoTaskAssociation
		return result, nil
	}
	taskID := claims[len(claims)-1].TaskID
	result.TaskID = taskID

	if !force {
		existing, err := r.reader.Get(taskID)
		if err != nil {
			return result, err
		}
		if existing != nil && hasSource(existing, sessionID) {
			result.Skipped = SkipEntryExists
			return result, nil
		}
	}

	attempt, outcome, lineage := synthesize(events, sessionID, taskID)

	snapshot := ledger.TaskSnapshot{Title: taskID}
	if _, err := r.writer.CreateTaskEntry(taskID, snapshot, lineage); err != nil {
		return result, err
	}
	if err := r.writer.AppendAttempt(taskID, attempt); err != nil {
		return result, err
	}
	for i := 0; i < len(claims)-1; i++ {
		// earlier claims are recorded as abandoned in the workflow stage
		// history; each row also sets the stage to dev_complete, the same
		// stage FinalizeTaskEntry sets below.
		if err := r.writer.UpdateWorkflowStage(taskID, ledger.StageDevComplete, "claim_abandoned:"+claims[i].TaskID, sessionID, true); err != nil {
			return result, err
		}
	}
	if err := r.writer.FinalizeTaskEntry(taskID, outcome, nil, ledger.Verification{Status: ledger.VerificationPending}); err != nil {
		return result, err
	}
	return result, nil
}

func claimsInOrder(events []Event) []Event {
	var claims []Event
	for _, e := range events {
		if e.Type == EventTaskClaim {
			claims = append(claims, e)
		}
	}
	sort.SliceStable(claims, func(i, j int) bool { return claims[i].Timestamp.Before(claims[j].Timestamp) })
	return claims
}

func hasSource(e *ledger.Entry, sessionID string) bool {
	for _, a := range e.Attempts {
		if a.RunID == sessionID {
			return true
		}
	}
	return false
}

func synthesize(events []Event, sessionID, taskID string) (ledger.Attempt, ledger.Outcome, ledger.Lineage) {
	attempt := ledger.Attempt{RunID: sessionID, Harness: "direct_session"}
	outcome := ledger.Outcome{}
	var lineage ledger.Lineage

	fileSet := map[string]bool{}
	var commits []string
	closed := false

	for _, e := range events {
		switch e.Type {
		case EventSessionStart:
			attempt.StartedAt = e.Timestamp
			attempt.Model = e.Model
		case EventSessionEnd:
			attempt.CompletedAt = e.Timestamp
		case EventFileWrite:
			fileSet[e.FilePath] = true
		case EventGitCommit:
			if e.Hash != "" {
				commits = append(commits, e.Hash)
			}
		case EventTaskClose:
			if e.TaskID == taskID {
				closed = true
			}
		}
	}

	files := make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(files)

	attempt.Success = closed
	if !attempt.CompletedAt.IsZero() && !attempt.StartedAt.IsZero() {
		attempt.DurationS = attempt.CompletedAt.Sub(attempt.StartedAt).Seconds()
	}

	outcome.Success = closed
	outcome.FilesChanged = files
	outcome.Commits = commits
	outcome.FinalModel = attempt.Model
	outcome.TotalAttempts = 1

	return attempt, outcome, lineage
}
