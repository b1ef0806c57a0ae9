package cubconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	l := NewLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "claude", cfg.Harness)
	require.Equal(t, 0.8, cfg.WarnAt)
	require.Equal(t, "jsonstore", cfg.TaskBackend)
}

func TestLoadAllowsExtstoreBackend(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".cub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cub", "cub.yaml"),
		[]byte("task_backend: extstore\ntask_backend_bin: taskgraph\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	l := NewLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "extstore", cfg.TaskBackend)
	require.Equal(t, "taskgraph", cfg.TaskBackendBin)
}

func TestLoadPrefersFileOverDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, ".cub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cub", "cub.yaml"), []byte("harness: codex\n"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	l := NewLoader()
	cfg, err := l.Load()
	require.NoError(t, err)
	require.Equal(t, "codex", cfg.Harness)
}

func TestSourceReflectsFlagOverride(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cmd := &cobra.Command{Use: "run"}
	cmd.Flags().String("harness", "claude", "")
	require.NoError(t, cmd.Flags().Set("harness", "codex"))

	l := NewLoader()
	require.NoError(t, l.BindFlags(cmd))
	_, err = l.Load()
	require.NoError(t, err)
	require.Equal(t, SourceFlag, l.Source("harness"))
}
