// Package prompt implements the pure, layered system+task prompt builder
// (§4.3). It has no side effects and no state: given identical inputs it
// returns byte-identical output.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lavallee/cub/internal/ledger"
	"github.com/lavallee/cub/internal/task"
)

// defaultLookupList is searched in order for a project-installed runloop
// template; the first existing file wins. The built-in fallback is used if
// none match.
var defaultLookupList = []string{
	".cub/runloop.md",
	".cub/templates/runloop.md",
	"docs/runloop.md",
}

const builtinRunloopTemplate = `# Autonomous task loop

Work the claimed task to completion. Make the smallest correct change.
When finished, close the task with a summary; when blocked, record the
blocker and close with reason "blocked" rather than leaving it open.
`

// EpicSummary is a dynamically generated view of sibling-task status,
// computed by the caller from the task backend before composing.
type EpicSummary struct {
	Title       string
	Description string
	Closed      []string
	Open        []string
	InProgress  []string
}

// Inputs bundles everything the composer needs. ProjectInstructions and
// PlanContext are raw file contents (already read by the caller); Epic is
// nil if the task has no parent epic.
type Inputs struct {
	ProjectRoot          string
	ProjectInstructions  string
	PlanContext          string
	Epic                 *EpicSummary
	Task                 *task.Task
	PreviousAttempts     []ledger.Attempt
}

// Composer builds (system_prompt, task_prompt) pairs per §4.3.
type Composer struct {
	lookupList      []string
	builtinTemplate string
}

func New() *Composer {
	return &Composer{lookupList: defaultLookupList, builtinTemplate: builtinRunloopTemplate}
}

// Compose is pure over inputs (I9): identical Inputs yield identical output.
func (c *Composer) Compose(in Inputs) (systemPrompt string, taskPrompt string) {
	var layers []string

	layers = append(layers, c.runloopTemplate(in.ProjectRoot))
	if in.ProjectInstructions != "" {
		layers = append(layers, in.ProjectInstructions)
	}
	if in.PlanContext != "" {
		layers = append(layers, in.PlanContext)
	}
	if in.Epic != nil {
		layers = append(layers, renderEpicContext(*in.Epic))
	}
	layers = append(layers, renderTaskContext(in.Task))
	if len(in.PreviousAttempts) > 0 {
		layers = append(layers, renderRetryContext(in.PreviousAttempts))
	}

	systemPrompt = strings.Join(layers, "\n\n---\n\n")
	taskPrompt = renderTaskPrompt(in.Task)
	return systemPrompt, taskPrompt
}

func (c *Composer) runloopTemplate(projectRoot string) string {
	for _, candidate := range c.lookupList {
		path := filepath.Join(projectRoot, candidate)
		if data, err := os.ReadFile(path); err == nil {
			return string(data)
		}
	}
	return c.builtinTemplate
}

func renderEpicContext(epic EpicSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Epic: %s\n\n%s\n\n", epic.Title, epic.Description)
	fmt.Fprintf(&b, "- closed (%d): %s\n", len(epic.Closed), strings.Join(epic.Closed, ", "))
	fmt.Fprintf(&b, "- in progress (%d): %s\n", len(epic.InProgress), strings.Join(epic.InProgress, ", "))
	fmt.Fprintf(&b, "- open (%d): %s\n", len(epic.Open), strings.Join(epic.Open, ", "))
	return b.String()
}

func renderTaskContext(t *task.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Task %s: %s\n\n%s\n\n", t.ID, t.Title, t.Description)
	b.WriteString("When the task is fully done, run:\n\n")
	fmt.Fprintf(&b, "    cub task close %s --reason \"<one-line summary>\"\n", t.ID)
	return b.String()
}

func renderTaskPrompt(t *task.Task) string {
	return fmt.Sprintf("Work on task %s: %s", t.ID, t.Title)
}

func renderRetryContext(attempts []ledger.Attempt) string {
	var b strings.Builder
	b.WriteString("## Previous attempts\n\n")
	for _, a := range attempts {
		fmt.Fprintf(&b, "- attempt %d (%s/%s): ", a.AttemptNumber, a.Harness, a.Model)
		if a.Success {
			b.WriteString("succeeded\n")
			continue
		}
		fmt.Fprintf(&b, "failed (%s): %s\n", a.ErrorCategory, a.ErrorSummary)
	}
	return b.String()
}
