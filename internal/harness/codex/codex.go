// Package codex implements harness.Harness over the codex CLI, which streams
// newline-delimited JSON events with a vocabulary distinct from claude's
// (token_count, agent_message, task_started, task_complete).
package codex

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/harness/subprocess"
	"github.com/lavallee/cub/internal/logx"
)

// Config describes how to locate and invoke the codex CLI.
type Config struct {
	BinaryPath     string
	DefaultModel   string
	ApprovalPolicy string
	Sandbox        string
	Env            map[string]string
}

// Harness invokes the codex CLI for one task at a time.
type Harness struct {
	cfg    Config
	logger logx.Logger
}

func New(cfg Config) *Harness {
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "codex"
	}
	if cfg.ApprovalPolicy == "" {
		cfg.ApprovalPolicy = "on-failure"
	}
	if cfg.Sandbox == "" {
		cfg.Sandbox = "workspace-write"
	}
	return &Harness{cfg: cfg, logger: logx.NewComponentLogger("harness:codex")}
}

func (h *Harness) Name() string         { return "codex" }
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

	args := []string{"exec", "--json", "--sandbox", h.cfg.Sandbox, "--ask-for-approval", h.cfg.ApprovalPolicy}
	if model != "" {
		args = append(args, "--model", model)
	}
	prompt := req.SystemPrompt
	if prompt != "" {
		prompt += "\n\n"
	}
	prompt += req.TaskPrompt
	args = append(args, prompt)

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
		return &harness.InvokeResult{Success: false, ErrorCategory: harness.ErrorHarnessMissing, ErrorSummary: err.Error()}, nil
	}

	result := &harness.InvokeResult{}
	scanner := proc.ScanLines()
	iteration := 0
	var lastErrorMessage string
	for scanner.Scan() {
		line := scanner.Bytes()
		if req.LogSink != nil {
			_, _ = req.LogSink.Write(append(append([]byte(nil), line...), '\n'))
		}
		var event map[string]any
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		eventType, _ := event["type"].(string)
		switch eventType {
		case "token_count":
			if tokens := extractTotalTokens(event); tokens > 0 {
				result.TokensOut = &tokens
			}
		case "agent_message", "agent_message_delta":
			if req.StreamCB != nil {
				iteration++
				req.StreamCB(harness.ProgressEvent{
					Iteration:   iteration,
					CurrentTool: "agent_message",
					CurrentArgs: extractDelta(event),
					At:          time.Now(),
				})
			}
		case "task_complete":
			result.Success = true
		case "error":
			lastErrorMessage, _ = event["message"].(string)
		}
	}

	waitErr := proc.Wait()
	result.DurationS = time.Since(start).Seconds()
	result.CapturedOutput = req.TaskID

	if !result.Success {
		result.ErrorCategory, result.ErrorSummary = classify(ctx, waitErr, lastErrorMessage)
	}

	return result, nil
}

func extractTotalTokens(event map[string]any) int {
	info, ok := event["info"].(map[string]any)
	if !ok {
		return 0
	}
	usage, ok := info["total_token_usage"].(map[string]any)
	if !ok {
		return 0
	}
	total, ok := usage["total_tokens"].(float64)
	if !ok {
		return 0
	}
	return int(total)
}

func extractDelta(event map[string]any) string {
	for _, key := range []string{"delta", "text", "content"} {
		if v, ok := event[key].(string); ok {
			return v
		}
	}
	return ""
}

func classify(ctx context.Context, waitErr error, message string) (harness.ErrorCategory, string) {
	if ctx.Err() == context.DeadlineExceeded {
		return harness.ErrorTimeout, "invocation exceeded its deadline"
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "rate limit"):
		return harness.ErrorRateLimit, message
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "api key"):
		return harness.ErrorAuth, message
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection"):
		return harness.ErrorNetwork, message
	case message != "":
		return harness.ErrorModel, message
	case waitErr != nil:
		return harness.ErrorInternal, waitErr.Error()
	default:
		return harness.ErrorUnknown, ""
	}
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
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

var _ harness.Harness = (*Harness)(nil)
