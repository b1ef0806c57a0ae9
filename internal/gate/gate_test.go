package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	outputs map[string]error
}

func (f fakeRunner) Run(_ context.Context, _ string, command string) (string, error) {
	return "", f.outputs[command]
}

func TestRunStopsAtFirstFail(t *testing.T) {
	runner := fakeRunner{outputs: map[string]error{"false": errFake()}}
	g := New(t.TempDir(), runner, []Check{
		{Name: "a", Command: "true"},
		{Name: "b", Command: "false"},
		{Name: "c", Command: "true"},
	})
	outcomes := g.Run(context.Background(), false)
	require.Len(t, outcomes, 2) // c never runs
	require.Equal(t, Fail, outcomes[1].Result)
}

func TestWarnOnFailureDoesNotStopSequence(t *testing.T) {
	runner := fakeRunner{outputs: map[string]error{"false": errFake()}}
	g := New(t.TempDir(), runner, []Check{
		{Name: "lint", Command: "false", WarnOnFailure: true},
		{Name: "after", Command: "true"},
	})
	outcomes := g.Run(context.Background(), false)
	require.Len(t, outcomes, 2)
	require.Equal(t, Warn, outcomes[0].Result)
	require.Equal(t, Pass, outcomes[1].Result)
}

func TestReportOnlyRunsAllChecksRegardlessOfFailure(t *testing.T) {
	runner := fakeRunner{outputs: map[string]error{"false": errFake()}}
	g := New(t.TempDir(), runner, []Check{
		{Name: "a", Command: "false"},
		{Name: "b", Command: "true"},
	})
	outcomes := g.Run(context.Background(), true)
	require.Len(t, outcomes, 2)
	require.NotNil(t, FirstFail(outcomes))
}

func TestNestingFailsWhenRunActive(t *testing.T) {
	t.Setenv("CUB_RUN_ACTIVE", "1")
	g := New(t.TempDir(), fakeRunner{}, []Check{{Name: "nesting"}})
	outcomes := g.Run(context.Background(), false)
	require.Equal(t, Fail, outcomes[0].Result)
}

func errFake() error { return context.DeadlineExceeded }
