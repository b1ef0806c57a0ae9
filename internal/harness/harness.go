// Package harness defines the contract over an external AI coding assistant
// invoked as a child process: invocation with a composed prompt, live output
// capture, and a structured result (§4.2).
package harness

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrorCategory is the closed set of harness failure categories the run loop
// keys off for retry decisions.
type ErrorCategory string

const (
	ErrorHarnessMissing ErrorCategory = "harness_missing"
	ErrorAuth           ErrorCategory = "auth"
	ErrorRateLimit      ErrorCategory = "rate_limit"
	ErrorNetwork        ErrorCategory = "network"
	ErrorTimeout        ErrorCategory = "timeout"
	ErrorModel          ErrorCategory = "model_error"
	ErrorInternal       ErrorCategory = "internal"
	ErrorUnknown        ErrorCategory = "unknown"
)

// Retryable reports whether the loop should retry the same task on the next
// iteration for this error category (§4.7).
func (c ErrorCategory) Retryable() bool {
	switch c {
	case ErrorRateLimit, ErrorNetwork, ErrorTimeout:
		return true
	default:
		return false
	}
}

// Fatal reports whether this category should escalate the loop to Failed
// immediately with no retry.
func (c ErrorCategory) Fatal() bool {
	return c == ErrorHarnessMissing || c == ErrorAuth
}

// ErrNotSupported indicates the harness does not support a requested operation.
var ErrNotSupported = errors.New("operation not supported")

// ProgressEvent is emitted during a streamed invocation.
type ProgressEvent struct {
	Iteration    int
	TokensUsed   int
	CostUSD      float64
	CurrentTool  string
	CurrentArgs  string
	FilesTouched []string
	At           time.Time
}

// StreamCallback receives progress events as they occur.
type StreamCallback func(ProgressEvent)

// InvokeRequest is the input to one harness invocation.
type InvokeRequest struct {
	TaskID        string
	SystemPrompt  string
	TaskPrompt    string
	Model         string
	Cwd           string
	EnvOverrides  map[string]string
	StdinMode     bool
	StreamCB      StreamCallback
	Timeout       time.Duration
	LogSink       io.Writer // raw child output is always mirrored here
}

// InvokeResult is the structured outcome of one harness invocation.
type InvokeResult struct {
	Success        bool
	ExitCode       int
	TokensIn       *int // nil means "unknown", never assumed zero
	TokensOut      *int
	CacheRead      *int
	CacheWrite     *int
	CostUSD        *float64
	DurationS      float64
	CapturedOutput string // claude and codex set this to the request's TaskID; it is not the log path (raw output goes to InvokeRequest.LogSink)
	ErrorCategory  ErrorCategory
	ErrorSummary   string
}

// Harness is the polymorphic contract over an external assistant (§4.2).
type Harness interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	DefaultModel() string
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}
