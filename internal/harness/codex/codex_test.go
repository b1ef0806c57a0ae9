package codex

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lavallee/cub/internal/harness"
)

func fakeCodex(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "codex")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestInvokeSuccessEmitsProgress(t *testing.T) {
	bin := fakeCodex(t, `
echo '{"type":"agent_message","text":"working"}'
echo '{"type":"token_count","info":{"total_token_usage":{"total_tokens":42}}}'
echo '{"type":"task_complete"}'
exit 0
`)
	h := New(Config{BinaryPath: bin})
	var events []string
	result, err := h.Invoke(context.Background(), harness.InvokeRequest{
		TaskID:     "proj-a-1",
		TaskPrompt: "do it",
		StreamCB: func(e harness.ProgressEvent) {
			events = append(events, e.CurrentArgs)
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.TokensOut)
	require.Equal(t, 42, *result.TokensOut)
	require.Equal(t, []string{"working"}, events)
}

func TestInvokeErrorEventClassifiedAsModelError(t *testing.T) {
	bin := fakeCodex(t, `
echo '{"type":"error","message":"the model refused the request"}'
exit 1
`)
	h := New(Config{BinaryPath: bin})
	result, err := h.Invoke(context.Background(), harness.InvokeRequest{TaskID: "proj-a-1", TaskPrompt: "x"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, harness.ErrorModel, result.ErrorCategory)
}
