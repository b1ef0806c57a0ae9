// Package task defines the task backend contract: an ordered,
// dependency-aware set of work items with readiness computation and atomic
// claim/close transitions.
package task

import (
	"regexp"
	"time"
)

// idPattern is the external task-id contract: project-epic[-task].
var idPattern = regexp.MustCompile(`^[a-z][a-z0-9]*-[a-z0-9]+(-[0-9]+(\.[0-9]+)?)?$`)

// ValidID reports whether id satisfies the task-id regex contract.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Type is the task's category.
type Type string

const (
	TypeTask    Type = "task"
	TypeFeature Type = "feature"
	TypeBug     Type = "bug"
	TypeEpic    Type = "epic"
	TypeGate    Type = "gate"
)

// Status is the task's lifecycle state.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusClosed     Status = "closed"
)

const (
	// LabelModelPrefix marks a label that overrides the harness model for a task.
	LabelModelPrefix = "model:"
	// LabelPR marks a task in its review stage.
	LabelPR = "pr"
)

// Task is a unit of work.
type Task struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Type        Type     `json:"type"`
	Status      Status   `json:"status"`
	Priority    int      `json:"priority"`
	Parent      string   `json:"parent,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Notes       string   `json:"notes,omitempty"`

	SessionID string `json:"session_id,omitempty"` // set while in_progress
	Broken    bool   `json:"broken,omitempty"`      // a referenced id does not exist

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	StatusHistory []StatusChange `json:"status_history,omitempty"`
}

// StatusChange records one status transition.
type StatusChange struct {
	From   Status    `json:"from"`
	To     Status    `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// HasLabel reports whether the task carries the exact label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// ModelOverride returns the harness model requested via a model:<name> label,
// and whether one was present.
func (t *Task) ModelOverride() (string, bool) {
	for _, l := range t.Labels {
		if len(l) > len(LabelModelPrefix) && l[:len(LabelModelPrefix)] == LabelModelPrefix {
			return l[len(LabelModelPrefix):], true
		}
	}
	return "", false
}

// Filters restricts which tasks are considered by Ready/List.
type Filters struct {
	ID     string // exact task id
	Parent string // restrict to this parent/epic id and its direct children; grandchildren do not match
	Label  string
}

// Patch is a partial update applied via Update.
type Patch struct {
	Title       *string
	Description *string
	Priority    *int
	Parent      *string
	DependsOn   *[]string
	Labels      *[]string
	Assignee    *string
	Notes       *string
}

// ClaimResult is the outcome of an atomic Claim call.
type ClaimResult int

const (
	ClaimOK ClaimResult = iota
	ClaimNotOpen
	ClaimRace
)

// Error values returned by Store implementations. Callers use errors.Is.
var (
	ErrNotFound     = storeError("not_found")
	ErrRace         = storeError("race")
	ErrInvalid      = storeError("invalid")
	ErrBackendError = storeError("backend_error")
)

type storeError string

func (e storeError) Error() string { return string(e) }

// Store is the polymorphic task backend contract (§4.1).
type Store interface {
	Ready(filters Filters) ([]Task, error)
	Get(id string) (Task, error)
	Claim(id, sessionID string) (ClaimResult, error)
	Close(id, reason string) error
	Update(id string, patch Patch) error
	List(filters Filters) ([]Task, error)
	Search(query string) ([]Task, error)
	Counts() (map[Status]int, error)
	Blocked() ([]Task, error)
	Create(t Task) error
	Delete(id string) error
	Reopen(id, reason string) error
	DepAdd(id, dep string) error
	DepRemove(id, dep string) error
	DepList(id string) ([]string, error)
	LabelAdd(id, label string) error
	LabelRemove(id, label string) error
	LabelList(id string) ([]string, error)
}
