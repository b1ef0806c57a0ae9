package logx

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json", false).With("comp")
	l.Info("hello %s", "world")

	out := buf.String()
	require.Contains(t, out, `"msg":"hello world"`)
	require.Contains(t, out, `"component":"comp"`)
}

func TestNewTextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", false)
	l.Warn("careful")
	require.True(t, strings.Contains(buf.String(), "careful"))
}

func TestOrNopHandlesNil(t *testing.T) {
	var l Logger
	safe := OrNop(l)
	require.NotPanics(t, func() {
		safe.Info("no-op")
	})
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "text", false)
	l.Debug("hidden")
	require.Empty(t, buf.String())
}
