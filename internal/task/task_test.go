package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidID(t *testing.T) {
	require.True(t, ValidID("cub-048a-5.4"))
	require.True(t, ValidID("acme-prod-2.1"))
	require.True(t, ValidID("app-001-0"))
	require.True(t, ValidID("cub-048a")) // epic-only id
	require.False(t, ValidID("Cub-048a-5"))
	require.False(t, ValidID("048a-5"))
	require.False(t, ValidID("cub--5"))
	require.False(t, ValidID(""))
}

func TestModelOverride(t *testing.T) {
	tk := Task{Labels: []string{"pr", "model:opus"}}
	model, ok := tk.ModelOverride()
	require.True(t, ok)
	require.Equal(t, "opus", model)

	tk2 := Task{Labels: []string{"pr"}}
	_, ok = tk2.ModelOverride()
	require.False(t, ok)
}

func TestReadyRequiresDepsClosed(t *testing.T) {
	tasks := []Task{
		{ID: "p-a-1", Status: StatusClosed},
		{ID: "p-a-2", Status: StatusOpen, DependsOn: []string{"p-a-1"}},
		{ID: "p-a-3", Status: StatusOpen, DependsOn: []string{"p-a-missing"}},
	}
	idx := NewIndex(tasks)

	require.True(t, Ready(idx, idx["p-a-2"]))
	require.False(t, Ready(idx, idx["p-a-3"]))
}

func TestReadyBlockedByUnapprovedGate(t *testing.T) {
	tasks := []Task{
		{ID: "p-a-1", Type: TypeGate, Status: StatusOpen},
		{ID: "p-a-2", Status: StatusOpen, DependsOn: []string{"p-a-1"}},
	}
	idx := NewIndex(tasks)
	require.False(t, Ready(idx, idx["p-a-2"]))

	tasks[0].Status = StatusClosed
	idx = NewIndex(tasks)
	require.True(t, Ready(idx, idx["p-a-2"]))
}

func TestReadyBlockedByParentGate(t *testing.T) {
	tasks := []Task{
		{ID: "p-a-1", Type: TypeGate, Status: StatusOpen},
		{ID: "p-a-2", Status: StatusOpen, Parent: "p-a-1"},
	}
	idx := NewIndex(tasks)
	require.False(t, Ready(idx, idx["p-a-2"]))
}

func TestHasCycle(t *testing.T) {
	tasks := []Task{
		{ID: "p-a-1", DependsOn: []string{"p-a-2"}},
		{ID: "p-a-2", DependsOn: []string{"p-a-1"}},
	}
	idx := NewIndex(tasks)
	require.True(t, HasCycle(idx, "p-a-1"))

	tasks2 := []Task{
		{ID: "p-a-1", DependsOn: []string{}},
		{ID: "p-a-2", DependsOn: []string{"p-a-1"}},
	}
	idx2 := NewIndex(tasks2)
	require.False(t, HasCycle(idx2, "p-a-2"))
}
