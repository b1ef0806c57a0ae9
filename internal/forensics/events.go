// Package forensics implements the hook-driven event stream that lets a
// direct (non-loop) external-assistant session leave the same ledger trace
// as a loop-driven run (§3.6, §4.10).
package forensics

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// EventType is the closed classification set from §3.6.
type EventType string

const (
	EventSessionStart EventType = "session_start"
	EventFileWrite    EventType = "file_write"
	EventTaskClaim    EventType = "task_claim"
	EventTaskClose    EventType = "task_close"
	EventGitCommit    EventType = "git_commit"
	EventSessionEnd   EventType = "session_end"
	EventPromptSubmit EventType = "prompt_submit"
)

// Event is one normalised, persisted row of a session's forensics log.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Model     string `json:"model,omitempty"`
	AgentType string `json:"agent_type,omitempty"`

	FilePath string `json:"file_path,omitempty"`
	Tool     string `json:"tool,omitempty"`

	TaskID string `json:"task_id,omitempty"`
	Reason string `json:"reason,omitempty"`

	Hash    string `json:"hash,omitempty"`
	Message string `json:"message,omitempty"`

	PromptExcerpt string `json:"prompt_excerpt,omitempty"`
}

// HookEnvelope is the raw payload delivered on stdin by an external
// assistant's lifecycle hook invocation.
type HookEnvelope struct {
	HookEventName string          `json:"hook_event_name"`
	SessionID     string          `json:"session_id"`
	Timestamp     time.Time       `json:"timestamp"`
	ToolName      string          `json:"tool_name,omitempty"`
	ToolInput     json.RawMessage `json:"tool_input,omitempty"`
	CWD           string          `json:"cwd,omitempty"`
}

func ParseEnvelope(data []byte) (HookEnvelope, error) {
	var env HookEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return HookEnvelope{}, fmt.Errorf("forensics: malformed hook envelope: %w", err)
	}
	if env.SessionID == "" {
		return HookEnvelope{}, fmt.Errorf("forensics: hook envelope missing session_id")
	}
	return env, nil
}

var trackedSourcePrefixes = []string{"plans/", "specs/", "captures/"}

// Classify maps a raw hook envelope to a normalised Event, or returns
// (Event{}, false) if the envelope carries nothing the pipeline tracks.
func Classify(env HookEnvelope) (Event, bool) {
	switch env.HookEventName {
	case "SessionStart":
		return Event{Type: EventSessionStart, Timestamp: env.Timestamp}, true
	case "SessionEnd":
		return Event{Type: EventSessionEnd, Timestamp: env.Timestamp}, true
	case "PreToolUse", "PostToolUse":
		return classifyToolUse(env)
	default:
		return Event{}, false
	}
}

func classifyToolUse(env HookEnvelope) (Event, bool) {
	switch env.ToolName {
	case "Write", "Edit":
		path := extractField(env.ToolInput, "file_path")
		if path == "" || !isTrackedPath(path) {
			return Event{}, false
		}
		return Event{Type: EventFileWrite, Timestamp: env.Timestamp, FilePath: path, Tool: env.ToolName}, true
	case "Bash":
		command := extractField(env.ToolInput, "command")
		return classifyBashCommand(command, env.Timestamp)
	default:
		return Event{}, false
	}
}

func isTrackedPath(path string) bool {
	for _, prefix := range trackedSourcePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	// anything outside plans/specs/captures is treated as project source,
	// which is also tracked; only paths under .cub/ and .git/ are excluded.
	return !strings.HasPrefix(path, ".cub/") && !strings.HasPrefix(path, ".git/")
}

func classifyBashCommand(command string, ts time.Time) (Event, bool) {
	fields := strings.Fields(command)
	switch {
	case matchesSubcommand(fields, "cub", "task", "claim"):
		return Event{Type: EventTaskClaim, Timestamp: ts, TaskID: taskIDArg(fields)}, true
	case matchesSubcommand(fields, "cub", "task", "close"):
		return Event{Type: EventTaskClose, Timestamp: ts, TaskID: taskIDArg(fields)}, true
	case strings.Contains(command, "git") && strings.Contains(command, "commit"):
		return Event{Type: EventGitCommit, Timestamp: ts}, true
	default:
		return Event{}, false
	}
}

func matchesSubcommand(fields []string, prefix ...string) bool {
	if len(fields) < len(prefix) {
		return false
	}
	for i, p := range prefix {
		if fields[i] != p {
			return false
		}
	}
	return true
}

// taskIDArg returns the first non-flag argument after `cub task <verb>`, so
// a trailing `--reason "..."` is not mistaken for the task id.
func taskIDArg(fields []string) string {
	for _, f := range fields[3:] {
		if !strings.HasPrefix(f, "-") {
			return f
		}
	}
	return ""
}

func extractField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
