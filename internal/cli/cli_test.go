package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExitCodeMapsExitError(t *testing.T) {
	require.Equal(t, 0, ExitCode(nil))
	require.Equal(t, 1, ExitCode(errors.New("boom")))
	require.Equal(t, 130, ExitCode(newExitError(130, errors.New("interrupted"))))
}

func TestExitErrorUnwraps(t *testing.T) {
	inner := errors.New("inner")
	wrapped := newExitError(7, inner)
	require.True(t, errors.Is(wrapped, inner))
}

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestTaskCreateClaimCloseRoundTrip(t *testing.T) {
	chdirTemp(t)

	root := newRootCmd()
	root.SetArgs([]string{"task", "create", "proj-epic-1", "do the thing"})
	var out bytes.Buffer
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"task", "claim", "proj-epic-1"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())

	root = newRootCmd()
	root.SetArgs([]string{"task", "close", "proj-epic-1", "--reason", "done"})
	root.SetOut(&out)
	require.NoError(t, root.Execute())
}

func TestTaskCreateRejectsInvalidID(t *testing.T) {
	chdirTemp(t)

	root := newRootCmd()
	root.SetArgs([]string{"task", "create", "Not Valid!", "title"})
	err := root.Execute()
	require.Error(t, err)
	require.Equal(t, 1, ExitCode(err))
}

func TestReadyListsNoTasksWithoutError(t *testing.T) {
	chdirTemp(t)

	root := newRootCmd()
	root.SetArgs([]string{"ready"})
	require.NoError(t, root.Execute())
}

func TestHookAlwaysExitsZeroOnMalformedInput(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".cub", "ledger"), 0o755))

	root := newRootCmd()
	root.SetArgs([]string{"hook"})
	r, w, err := os.Pipe()
	require.NoError(t, err)
	_, err = w.WriteString("not json")
	require.NoError(t, err)
	w.Close()

	oldStdin := os.Stdin
	os.Stdin = r
	defer func() { os.Stdin = oldStdin }()

	require.NoError(t, root.Execute())
}

func TestLedgerStatsOnEmptyLedger(t *testing.T) {
	chdirTemp(t)

	root := newRootCmd()
	root.SetArgs([]string{"ledger", "stats"})
	require.NoError(t, root.Execute())
}
