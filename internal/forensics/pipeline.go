package forensics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lavallee/cub/internal/fsutil"
)

// RunActiveEnvVar is checked before recording anything; its presence means a
// loop session owns this invocation and hook-driven tracking must no-op.
const RunActiveEnvVar = "CUB_RUN_ACTIVE"

// Pipeline appends classified events to a session's forensics file.
type Pipeline struct {
	ledgerRoot string
}

func NewPipeline(ledgerRoot string) *Pipeline {
	return &Pipeline{ledgerRoot: ledgerRoot}
}

func (p *Pipeline) sessionPath(sessionID string) string {
	return filepath.Join(p.ledgerRoot, "forensics", sessionID+".jsonl")
}

// HandleHook is the entrypoint invoked by the external assistant's hook
// shim: parse, classify, and append. It never returns an error that should
// surface as a blocking exit — callers always exit 0 regardless.
func (p *Pipeline) HandleHook(raw []byte) error {
	if os.Getenv(RunActiveEnvVar) != "" {
		return nil
	}
	env, err := ParseEnvelope(raw)
	if err != nil {
		return err
	}
	event, ok := Classify(env)
	if !ok {
		return nil
	}
	return p.Append(env.SessionID, event)
}

// Append persists a single event for sessionID.
func (p *Pipeline) Append(sessionID string, event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("forensics: %w", err)
	}
	return fsutil.AppendLine(p.sessionPath(sessionID), line)
}

// ReadSession loads every event recorded for sessionID, in file order.
// Malformed lines are skipped rather than aborting the read (§4.10.1).
func (p *Pipeline) ReadSession(sessionID string) ([]Event, []string, error) {
	return readEventsFile(p.sessionPath(sessionID))
}

func readEventsFile(path string) ([]Event, []string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("forensics: %w", err)
	}

	var events []Event
	var warnings []string
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			line := data[start:i]
			start = i + 1
			if len(line) == 0 {
				continue
			}
			var e Event
			if err := json.Unmarshal(line, &e); err != nil {
				warnings = append(warnings, fmt.Sprintf("skipped malformed line: %v", err))
				continue
			}
			events = append(events, e)
		}
	}
	return events, warnings, nil
}
