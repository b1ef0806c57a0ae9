package runsession

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartInstallsActiveRunSymlink(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	runID := NewRunID(time.Now())
	require.NoError(t, m.Start(Session{RunID: runID, PID: os.Getpid(), Phase: PhaseInitializing}))

	active, err := m.ActiveSession()
	require.NoError(t, err)
	require.Equal(t, runID, active.RunID)
}

func TestFinishClearsActiveRunSymlink(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	runID := NewRunID(time.Now())
	s := Session{RunID: runID, PID: os.Getpid(), Phase: PhaseInitializing}
	require.NoError(t, m.Start(s))
	require.NoError(t, m.Finish(s, PhaseCompleted))

	_, err := os.Lstat(filepath.Join(root, "active-run"))
	require.True(t, os.IsNotExist(err))
}

func TestStartReclaimsOrphanedRun(t *testing.T) {
	root := t.TempDir()
	m := NewManager(root)
	dead := NewRunID(time.Now())
	require.NoError(t, m.Start(Session{RunID: dead, PID: 999999, Phase: PhaseRunning}))

	live := NewRunID(time.Now())
	require.NoError(t, m.Start(Session{RunID: live, PID: os.Getpid(), Phase: PhaseInitializing}))

	active, err := m.ActiveSession()
	require.NoError(t, err)
	require.Equal(t, live, active.RunID)
}

func TestAliveReflectsProcessState(t *testing.T) {
	require.True(t, Alive(os.Getpid()))
	require.False(t, Alive(999999))
}
