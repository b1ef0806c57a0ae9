package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCreateTaskEntryIdempotent(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	snap := TaskSnapshot{Title: "add retries", Type: "task", Priority: 2, CreatedAt: time.Now()}
	e1, err := w.CreateTaskEntry("auth-retry", snap, Lineage{EpicID: "epic-auth"})
	require.NoError(t, err)
	require.Equal(t, VerificationPending, e1.Verification.Status)

	e2, err := w.CreateTaskEntry("auth-retry", TaskSnapshot{Title: "different title"}, Lineage{})
	require.NoError(t, err)
	require.Equal(t, "add retries", e2.Task.Title) // unchanged by the second call
}

func TestAppendAttemptNumbersMonotonically(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	_, err := w.CreateTaskEntry("auth-retry", TaskSnapshot{Title: "x"}, Lineage{})
	require.NoError(t, err)

	require.NoError(t, w.AppendAttempt("auth-retry", Attempt{Harness: "claude", Model: "sonnet"}))
	require.NoError(t, w.AppendAttempt("auth-retry", Attempt{Harness: "claude", Model: "opus"}))

	r, err := NewReader(root, 8)
	require.NoError(t, err)
	entry, err := r.Get("auth-retry")
	require.NoError(t, err)
	require.Len(t, entry.Attempts, 2)
	require.Equal(t, 1, entry.Attempts[0].AttemptNumber)
	require.Equal(t, 2, entry.Attempts[1].AttemptNumber)
}

func TestFinalizeAndWorkflowGuard(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	_, err := w.CreateTaskEntry("auth-retry", TaskSnapshot{Title: "x"}, Lineage{})
	require.NoError(t, err)

	require.NoError(t, w.FinalizeTaskEntry("auth-retry", Outcome{Success: true, FinalModel: "sonnet"}, nil,
		Verification{Status: VerificationPass, Tests: true}))

	r, err := NewReader(root, 8)
	require.NoError(t, err)
	entry, err := r.Get("auth-retry")
	require.NoError(t, err)
	require.Equal(t, StageDevComplete, entry.Workflow.Stage)
	require.True(t, entry.Outcome.Success)

	require.NoError(t, w.UpdateWorkflowStage("auth-retry", StageReleased, "shipped", "reviewer", false))
	err = w.UpdateWorkflowStage("auth-retry", StageDevComplete, "oops", "bot", false)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, w.UpdateWorkflowStage("auth-retry", StageDevComplete, "reopen", "reviewer", true))
}

func TestEpicAggregatesRecompute(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	require.NoError(t, w.UpsertEpic("epic-auth", "Auth hardening", "", ""))
	for _, id := range []string{"auth-retry", "auth-lockout"} {
		_, err := w.CreateTaskEntry(id, TaskSnapshot{Title: id}, Lineage{EpicID: "epic-auth"})
		require.NoError(t, err)
		require.NoError(t, w.UpsertEpic("epic-auth", "Auth hardening", "", id))
		cost := 1.5
		tokensIn, tokensOut := 100, 200
		require.NoError(t, w.AppendAttempt(id, Attempt{Harness: "claude", CostUSD: &cost, TokensIn: &tokensIn, TokensOut: &tokensOut}))
		require.NoError(t, w.FinalizeTaskEntry(id, Outcome{Success: true}, nil, Verification{Status: VerificationPass}))
	}

	require.NoError(t, w.RecomputeEpicAggregates("epic-auth"))
	r, err := NewReader(root, 8)
	require.NoError(t, err)
	epic, err := r.GetEpic("epic-auth")
	require.NoError(t, err)
	require.Equal(t, 2, epic.Aggregates.TotalTasks)
	require.Equal(t, 2, epic.Aggregates.TasksCompleted)
	require.InDelta(t, 3.0, epic.Aggregates.TotalCostUSD, 0.001)
}

func TestReaderByEpicAndRecent(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	_, err := w.CreateTaskEntry("auth-retry", TaskSnapshot{Title: "x"}, Lineage{EpicID: "epic-auth"})
	require.NoError(t, err)
	_, err = w.CreateTaskEntry("ui-theme", TaskSnapshot{Title: "y"}, Lineage{})
	require.NoError(t, err)

	r, err := NewReader(root, 8)
	require.NoError(t, err)
	byEpic, err := r.ByEpic("epic-auth")
	require.NoError(t, err)
	require.Len(t, byEpic, 1)
	require.Equal(t, "auth-retry", byEpic[0].ID)

	recent, err := r.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}

func TestValidateIndexStaysValidAfterCreateTaskEntry(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)
	r, err := NewReader(root, 8)
	require.NoError(t, err)

	valid, err := r.ValidateIndex()
	require.NoError(t, err)
	require.True(t, valid)

	_, err = w.CreateTaskEntry("auth-retry", TaskSnapshot{Title: "x"}, Lineage{})
	require.NoError(t, err)

	valid, err = r.ValidateIndex()
	require.NoError(t, err)
	require.True(t, valid) // CreateTaskEntry keeps the index in sync
}
