// Package claude implements harness.Harness by invoking the claude CLI as a
// non-interactive child process and parsing its stream-json stdout.
package claude

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/harness/subprocess"
	"github.com/lavallee/cub/internal/logx"
)

// Config describes how to locate and invoke the claude CLI.
type Config struct {
	BinaryPath   string
	DefaultModel string
	MaxTurns     int
	Env          map[string]string
}

// Harness invokes the claude CLI for one task at a time.
type Harness struct {
	cfg    Config
	logger logx.Logger
}

func New(cfg Config) *Harness {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "claude"
	}
	return &Harness{cfg: cfg, logger: logx.NewComponentLogger("harness:claude")}
}

func (h *Harness) Name() string { return "claude" }

func (h *Harness) DefaultModel() string { return h.cfg.DefaultModel }

func (h *Harness) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(h.cfg.BinaryPath)
	return err == nil
}

func (h *Harness) Invoke(ctx context.Context, req harness.InvokeRequest) (*harness.InvokeResult, error) {
	model := req.Model
	if model == "" {
		model = h.cfg.DefaultModel
	}

	args := []string{"-p", req.TaskPrompt, "--output-format", "stream-json", "--verbose"}
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if h.cfg.MaxTurns > 0 {
		args = append(args, "--max-turns", fmt.Sprintf("%d", h.cfg.MaxTurns))
	}
	args = append(args, "--dangerously-skip-permissions")

	env := buildEnv(req.EnvOverrides, h.cfg.Env)

	proc := subprocess.New(subprocess.Config{
		Command:    h.cfg.BinaryPath,
		Args:       args,
		Env:        env,
		WorkingDir: req.Cwd,
		Timeout:    req.Timeout,
	})

	start := time.Now()
	if err := proc.Start(ctx); err != nil {
		if isMissingBinary(err) {
			return &harness.InvokeResult{Success: false, ErrorCategory: harness.ErrorHarnessMissing, ErrorSummary: err.Error()}, nil
		}
		return nil, err
	}

	result := &harness.InvokeResult{}
	scanner := proc.ScanLines()
	var lastResultText string
	iteration := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if req.LogSink != nil {
			_, _ = req.LogSink.Write(append(append([]byte(nil), line...), '\n'))
		}
		msg, err := parseStreamMessage(line)
		if err != nil {
			continue // malformed line: never aborts the stream
		}
		applyUsage(result, msg.extractUsage())
		if msg.CostUSD != nil {
			result.CostUSD = msg.CostUSD
		}
		if msg.Type == "result" {
			lastResultText = msg.Result
			result.Success = !msg.IsError
		}
		if name, input, ok := msg.extractToolEvent(); ok && req.StreamCB != nil {
			iteration++
			req.StreamCB(harness.ProgressEvent{
				Iteration:   iteration,
				CurrentTool: name,
				CurrentArgs: input,
				At:          time.Now(),
			})
		}
	}

	waitErr := proc.Wait()
	result.DurationS = time.Since(start).Seconds()
	result.CapturedOutput = req.TaskID

	if waitErr != nil && !result.Success {
		result.ErrorCategory, result.ErrorSummary = classifyExit(ctx, waitErr, lastResultText)
	}
	if result.ErrorCategory == "" && !result.Success {
		result.ErrorCategory = harness.ErrorUnknown
		if result.ErrorSummary == "" {
			result.ErrorSummary = lastResultText
		}
	}

	return result, nil
}

func applyUsage(result *harness.InvokeResult, u *usage) {
	if u == nil {
		return
	}
	if u.InputTokens != nil {
		result.TokensIn = u.InputTokens
	}
	if u.OutputTokens != nil {
		result.TokensOut = u.OutputTokens
	}
	if u.CacheReadInputTokens != nil {
		result.CacheRead = u.CacheReadInputTokens
	}
	if u.CacheCreationInputTokens != nil {
		result.CacheWrite = u.CacheCreationInputTokens
	}
}

func classifyExit(ctx context.Context, waitErr error, resultText string) (harness.ErrorCategory, string) {
	if ctx.Err() == context.DeadlineExceeded {
		return harness.ErrorTimeout, "invocation exceeded its deadline"
	}
	lower := strings.ToLower(resultText)
	switch {
	case strings.Contains(lower, "rate limit"):
		return harness.ErrorRateLimit, resultText
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "authentication"):
		return harness.ErrorAuth, resultText
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection"):
		return harness.ErrorNetwork, resultText
	default:
		return harness.ErrorInternal, waitErr.Error()
	}
}

func isMissingBinary(err error) bool {
	var execErr *exec.Error
	return err != nil && (strings.Contains(err.Error(), "executable file not found") || errorsAs(err, &execErr))
}

func errorsAs(err error, target **exec.Error) bool {
	for err != nil {
		if e, ok := err.(*exec.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func buildEnv(overrides, base map[string]string) []string {
	merged := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	return env
}

var _ harness.Harness = (*Harness)(nil)
