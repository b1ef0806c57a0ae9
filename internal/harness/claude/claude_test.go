package claude

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lavallee/cub/internal/harness"
)

// fakeClaude writes a shell script that mimics `claude -p ... --output-format
// stream-json` by emitting a couple of stream-json lines and exiting 0.
func fakeClaude(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "claude")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755))
	return path
}

func TestInvokeSuccessParsesUsageAndResult(t *testing.T) {
	bin := fakeClaude(t, `
echo '{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Edit","input":{}}]}}'
echo '{"type":"result","result":"done","is_error":false,"usage":{"input_tokens":10,"output_tokens":20},"total_cost_usd":0.05}'
exit 0
`)
	h := New(Config{BinaryPath: bin})
	var log bytes.Buffer
	var events []string
	result, err := h.Invoke(context.Background(), harness.InvokeRequest{
		TaskID:     "proj-a-1",
		TaskPrompt: "work on it",
		LogSink:    &log,
		StreamCB: func(e harness.ProgressEvent) {
			events = append(events, e.CurrentTool)
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.TokensIn)
	require.Equal(t, 10, *result.TokensIn)
	require.NotNil(t, result.CostUSD)
	require.Equal(t, []string{"Edit"}, events)
	require.NotEmpty(t, log.String())
}

func TestInvokeFailureSetsErrorCategory(t *testing.T) {
	bin := fakeClaude(t, `
echo '{"type":"result","result":"rate limit exceeded","is_error":true}'
exit 1
`)
	h := New(Config{BinaryPath: bin})
	result, err := h.Invoke(context.Background(), harness.InvokeRequest{TaskID: "proj-a-1", TaskPrompt: "x"})
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Equal(t, harness.ErrorRateLimit, result.ErrorCategory)
}

func TestIsAvailableFalseWhenMissing(t *testing.T) {
	h := New(Config{BinaryPath: "/nonexistent/claude-binary"})
	require.False(t, h.IsAvailable(context.Background()))
}
