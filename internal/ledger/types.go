// Package ledger implements the append-only, content-addressed record of
// every attempt and every session event (§3.3–§3.5, §4.8–§4.9).
package ledger

import "time"

const schemaVersion = 1

// Source records how an entry was created.
type Source string

const (
	SourceLoop          Source = "loop"
	SourceDirectSession Source = "direct_session"
)

// VerificationStatus is the outcome of running checks against a task's result.
type VerificationStatus string

const (
	VerificationPending VerificationStatus = "pending"
	VerificationPass     VerificationStatus = "pass"
	VerificationFail     VerificationStatus = "fail"
	VerificationWarn     VerificationStatus = "warn"
	VerificationSkip     VerificationStatus = "skip"
	VerificationError    VerificationStatus = "error"
)

// WorkflowStage is the post-completion stage of a ledger entry.
type WorkflowStage string

const (
	StageDevComplete WorkflowStage = "dev_complete"
	StageNeedsReview WorkflowStage = "needs_review"
	StageValidated   WorkflowStage = "validated"
	StageReleased    WorkflowStage = "released"
)

// DriftSeverity classifies how far the result strayed from the task as captured.
type DriftSeverity string

const (
	DriftNone        DriftSeverity = "none"
	DriftMinor       DriftSeverity = "minor"
	DriftSignificant DriftSeverity = "significant"
)

// Lineage is a set of optional references to the task's surrounding context.
type Lineage struct {
	SpecFile string `json:"spec_file,omitempty"`
	PlanFile string `json:"plan_file,omitempty"`
	EpicID   string `json:"epic_id,omitempty"`
}

// TaskSnapshot is captured the first time a task entry is created.
type TaskSnapshot struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Type        string    `json:"type"`
	Priority    int       `json:"priority"`
	Labels      []string  `json:"labels,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	CapturedAt  time.Time `json:"captured_at"`
}

// TaskChanged records drift between the first-captured snapshot and the task
// at close time.
type TaskChanged struct {
	Fields []string `json:"fields"`
	Before string   `json:"before"`
	After  string   `json:"after"`
}

// Attempt is one harness invocation for one task (§3.4).
type Attempt struct {
	AttemptNumber int       `json:"attempt_number"`
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
	Harness       string    `json:"harness"`
	Model         string    `json:"model"`
	Success       bool      `json:"success"`
	ErrorCategory string    `json:"error_category,omitempty"`
	ErrorSummary  string    `json:"error_summary,omitempty"`

	TokensIn   *int     `json:"tokens_in,omitempty"`
	TokensOut  *int     `json:"tokens_out,omitempty"`
	CacheRead  *int     `json:"cache_read,omitempty"`
	CacheWrite *int     `json:"cache_write,omitempty"`
	CostUSD    *float64 `json:"cost_usd,omitempty"`
	DurationS  float64  `json:"duration_s"`
}

// Outcome is filled on final close.
type Outcome struct {
	Success        bool      `json:"success"`
	Partial        bool      `json:"partial"`
	CompletedAt    time.Time `json:"completed_at"`
	TotalCostUSD   float64   `json:"total_cost_usd"`
	TotalAttempts  int       `json:"total_attempts"`
	TotalDurationS float64   `json:"total_duration_s"`
	FinalModel     string    `json:"final_model"`
	Escalation     []string  `json:"escalation,omitempty"`
	FilesChanged   []string  `json:"files_changed,omitempty"`
	Commits        []string  `json:"commits,omitempty"`
	Approach       string    `json:"approach,omitempty"`
	KeyDecisions   []string  `json:"key_decisions,omitempty"`
	LessonsLearned []string  `json:"lessons_learned,omitempty"`
}

// Drift records additions/omissions vs the originating spec.
type Drift struct {
	Severity DriftSeverity `json:"severity"`
	Notes    string        `json:"notes,omitempty"`
}

// Verification is the checked state of a task's result.
type Verification struct {
	Status    VerificationStatus `json:"status"`
	CheckedAt time.Time          `json:"checked_at,omitempty"`
	Tests     bool               `json:"tests"`
	Typecheck bool               `json:"typecheck"`
	Lint      bool               `json:"lint"`
	Notes     string             `json:"notes,omitempty"`
}

// StateTransition is one entry in a ledger entry's state_history.
type StateTransition struct {
	Stage  WorkflowStage `json:"stage"`
	At     time.Time     `json:"at"`
	By     string        `json:"by,omitempty"`
	Reason string        `json:"reason,omitempty"`
}

// Entry is the append-mostly per-task ledger record (§3.3).
type Entry struct {
	ID      string `json:"id"`
	Version int    `json:"version"`

	Lineage     Lineage       `json:"lineage,omitempty"`
	Task        TaskSnapshot  `json:"task"`
	TaskChanged *TaskChanged  `json:"task_changed,omitempty"`
	Attempts    []Attempt     `json:"attempts"`
	Outcome     *Outcome      `json:"outcome,omitempty"`
	Drift       *Drift        `json:"drift,omitempty"`
	Verification Verification `json:"verification"`
	Workflow    struct {
		Stage       WorkflowStage `json:"stage"`
		LastUpdated time.Time     `json:"last_updated"`
	} `json:"workflow"`
	StateHistory []StateTransition `json:"state_history,omitempty"`
	Source       Source            `json:"source"`
}

// EpicAggregates are derived, rebuildable from per-task entries (§3.5).
type EpicAggregates struct {
	TotalTasks       int     `json:"total_tasks"`
	TasksCompleted   int     `json:"tasks_completed"`
	TasksInProgress  int     `json:"tasks_in_progress"`
	TotalCostUSD     float64 `json:"total_cost_usd"`
	TotalTokensIn    int     `json:"total_tokens_in"`
	TotalTokensOut   int     `json:"total_tokens_out"`
	TotalAttempts    int     `json:"total_attempts"`
	EscalationRate   float64 `json:"escalation_rate"`
	AvgCostPerTask   float64 `json:"avg_cost_per_task"`
}

// EpicEntry aggregates ledger state for an epic id.
type EpicEntry struct {
	ID           string         `json:"id"`
	Version      int            `json:"version"`
	Lineage      Lineage        `json:"lineage,omitempty"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	CreatedAt    time.Time      `json:"created_at"`
	TaskIDs      []string       `json:"task_ids"`
	Aggregates   EpicAggregates `json:"aggregates"`
	Workflow     struct {
		Stage       WorkflowStage `json:"stage"`
		LastUpdated time.Time     `json:"last_updated"`
	} `json:"workflow"`
	StateHistory []StateTransition `json:"state_history,omitempty"`
}

// IndexRecord is one fast-lookup row in the ledger index.
type IndexRecord struct {
	ID          string        `json:"id"`
	Kind        string        `json:"kind"` // "task" or "epic"
	Stage       WorkflowStage `json:"stage"`
	Success     *bool         `json:"success,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
	EpicID      string        `json:"epic_id,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
