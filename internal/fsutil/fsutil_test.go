package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAtomicWriteFileReplacesContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "data.json")

	require.NoError(t, AtomicWriteFile(path, []byte("first"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first", string(data))

	require.NoError(t, AtomicWriteFile(path, []byte("second"), 0o644))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1) // no leftover temp files
}

func TestAppendLineAccumulates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	require.NoError(t, AppendLine(path, []byte(`{"a":1}`)))
	require.NoError(t, AppendLine(path, []byte(`{"a":2}`)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "{\"a\":1}\n{\"a\":2}\n", string(data))
}

func TestExclusiveLockReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	l, err := AcquireExclusive(path)
	require.NoError(t, err)

	// A second acquire from a fresh fd on the same path would block; we only
	// assert that acquisition and release succeed without error here since
	// blocking behavior needs cross-process verification.
	require.NoError(t, l.Release())
	l2, err := AcquireExclusive(path)
	require.NoError(t, err)
	require.NoError(t, l2.Release())
}
