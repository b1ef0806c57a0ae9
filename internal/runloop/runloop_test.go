package runloop

import (
	"context"
	"testing"
	"time"

	"github.com/lavallee/cub/internal/budget"
	"github.com/lavallee/cub/internal/gate"
	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/ledger"
	"github.com/lavallee/cub/internal/prompt"
	"github.com/lavallee/cub/internal/runsession"
	"github.com/lavallee/cub/internal/stagnation"
	"github.com/lavallee/cub/internal/task"
	"github.com/lavallee/cub/internal/task/jsonstore"
	"github.com/stretchr/testify/require"
)

type fakeHarness struct {
	name      string
	success   bool
	invokeErr error

	// store and closeTask let the fake stand in for a harness that actually
	// finishes the task it was invoked on, exercising the Finalize path.
	store     task.Store
	closeTask bool

	invocations int
}

func (f *fakeHarness) Name() string                        { return f.name }
func (f *fakeHarness) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeHarness) DefaultModel() string                 { return "stub-model" }
func (f *fakeHarness) Invoke(ctx context.Context, req harness.InvokeRequest) (*harness.InvokeResult, error) {
	f.invocations++
	if f.invokeErr != nil {
		return nil, f.invokeErr
	}
	if f.success && f.closeTask && f.store != nil {
		if err := f.store.Close(req.TaskID, "done"); err != nil {
			return nil, err
		}
	}
	return &harness.InvokeResult{Success: f.success, DurationS: 0.1}, nil
}

func newTestLoop(t *testing.T, tasks task.Store, h harness.Harness, once bool) *Loop {
	t.Helper()
	root := t.TempDir()
	ledgerRoot := t.TempDir()

	registry := harness.NewRegistry()
	require.NoError(t, registry.Register(h))

	writer := ledger.NewWriter(ledgerRoot)
	reader, err := ledger.NewReader(ledgerRoot, 8)
	require.NoError(t, err)

	g := gate.New(root, fakeGateRunner{}, nil) // no checks configured for these tests
	sessions := runsession.NewManager(root)

	return New(
		Config{Once: once, PerTaskTimeout: 10 * time.Second},
		tasks, registry, h.Name(), "",
		writer, reader, prompt.New(),
		budget.NewAccountant(budget.Limits{}),
		stagnation.NewBreaker(stagnation.DefaultConfig()),
		g, sessions, root,
	)
}

type fakeGateRunner struct{}

func (fakeGateRunner) Run(ctx context.Context, workingDir, command string) (string, error) {
	return "", nil
}

func TestRunOnceCompletesReadyTask(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(task.Task{ID: "proj-a-1", Title: "do x", Status: task.StatusOpen}))

	h := &fakeHarness{name: "claude", success: true, store: store, closeTask: true}
	loop := newTestLoop(t, store, h, true)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, outcome.FinalState)

	fresh, err := store.Get("proj-a-1")
	require.NoError(t, err)
	require.Equal(t, task.StatusClosed, fresh.Status)

	require.Equal(t, 1, loop.accountant.Usage().TasksCompleted)
}

// TestRunRetriesSameTaskAcrossAttempts covers the §4.7 transient-retry rule
// and the escalation path it feeds: a task whose attempts never close it is
// reverted to open and re-selected on the next iteration instead of being
// stranded in_progress, until the stagnation breaker trips on repeated
// failures of the same task.
func TestRunRetriesSameTaskAcrossAttempts(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(task.Task{ID: "proj-a-1", Title: "do x", Status: task.StatusOpen}))

	h := &fakeHarness{name: "claude", success: false}
	loop := newTestLoop(t, store, h, false)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateStopped, outcome.FinalState)
	require.GreaterOrEqual(t, h.invocations, 2)

	fresh, err := store.Get("proj-a-1")
	require.NoError(t, err)
	require.NotEqual(t, task.StatusClosed, fresh.Status)
}

// TestHarnessFatalCategoryFailsImmediately covers §4.7/§7: harness_missing
// and auth are captured as InvokeResult.ErrorCategory with a nil error, not
// a Go error, but must still escalate the loop to Failed with no retry.
func TestHarnessFatalCategoryFailsImmediately(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(task.Task{ID: "proj-a-1", Title: "do x", Status: task.StatusOpen}))

	h := &fatalCategoryHarness{name: "claude", category: harness.ErrorAuth}
	loop := newTestLoop(t, store, h, false)

	outcome, err := loop.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, outcome.FinalState)
	require.Equal(t, 1, h.invocations)

	fresh, err := store.Get("proj-a-1")
	require.NoError(t, err)
	require.NotEqual(t, task.StatusClosed, fresh.Status)
}

type fatalCategoryHarness struct {
	name        string
	category    harness.ErrorCategory
	invocations int
}

func (f *fatalCategoryHarness) Name() string                        { return f.name }
func (f *fatalCategoryHarness) IsAvailable(ctx context.Context) bool { return true }
func (f *fatalCategoryHarness) DefaultModel() string                 { return "stub-model" }
func (f *fatalCategoryHarness) Invoke(ctx context.Context, req harness.InvokeRequest) (*harness.InvokeResult, error) {
	f.invocations++
	return &harness.InvokeResult{Success: false, ErrorCategory: f.category, DurationS: 0.1}, nil
}

func TestDispatchGoErrorFailsTheLoop(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, store.Create(task.Task{ID: "proj-a-1", Title: "do x", Status: task.StatusOpen}))

	h := &fakeHarness{name: "claude", invokeErr: context.DeadlineExceeded}
	loop := newTestLoop(t, store, h, false)

	outcome, err := loop.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, outcome.FinalState)

	cb := loop.harnessBreakers.Get("claude")
	require.NotEqual(t, "open", cb.State().String()) // one failure alone never trips FailureThreshold

	fresh, getErr := store.Get("proj-a-1")
	require.NoError(t, getErr)
	require.NotEqual(t, task.StatusClosed, fresh.Status)
}

func TestRunReturnsDoneWhenNoReadyTasks(t *testing.T) {
	dir := t.TempDir()
	store, err := jsonstore.New(dir)
	require.NoError(t, err)

	h := &fakeHarness{name: "claude", success: true}
	loop := newTestLoop(t, store, h, false)

	outcome, err := loop.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDone, outcome.FinalState)
	require.Equal(t, "no_ready_tasks", outcome.Reason)
}
