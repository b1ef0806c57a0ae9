package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/lavallee/cub/internal/fsutil"
)

func readEpicEntry(path string) (*EpicEntry, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	var e EpicEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("ledger_io: corrupt epic entry %s: %w", path, err)
	}
	return &e, nil
}

func writeEpicEntry(path string, e *EpicEntry) error {
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("ledger_io: %w", err)
	}
	return fsutil.AtomicWriteFile(path, data, 0o644)
}

// UpsertEpic creates an epic entry if absent, or adds taskID to its task
// list if not already present.
func (w *Writer) UpsertEpic(epicID, title, description, taskID string) error {
	return w.withLock(func() error {
		path := w.layout.epicEntryPath(epicID)
		e, err := readEpicEntry(path)
		if err != nil {
			return err
		}
		if e == nil {
			e = &EpicEntry{ID: epicID, Version: schemaVersion, Title: title, Description: description, CreatedAt: time.Now()}
		}
		if taskID != "" && !containsStr(e.TaskIDs, taskID) {
			e.TaskIDs = append(e.TaskIDs, taskID)
		}
		if err := writeEpicEntry(path, e); err != nil {
			return err
		}
		return w.appendIndexLocked(IndexRecord{ID: epicID, Kind: "epic", Stage: e.Workflow.Stage, UpdatedAt: time.Now()})
	})
}

// RecomputeEpicAggregates rebuilds an epic's aggregates from its member
// task entries; aggregates are always derived, never incrementally mutated.
func (w *Writer) RecomputeEpicAggregates(epicID string) error {
	return w.withLock(func() error {
		path := w.layout.epicEntryPath(epicID)
		e, err := readEpicEntry(path)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("ledger_io: no epic entry for %s", epicID)
		}

		var agg EpicAggregates
		var escalated int
		for _, taskID := range e.TaskIDs {
			t, err := readEntry(w.layout.taskEntryPath(taskID))
			if err != nil {
				return err
			}
			if t == nil {
				continue
			}
			agg.TotalTasks++
			agg.TotalAttempts += len(t.Attempts)
			for _, a := range t.Attempts {
				if a.TokensIn != nil {
					agg.TotalTokensIn += *a.TokensIn
				}
				if a.TokensOut != nil {
					agg.TotalTokensOut += *a.TokensOut
				}
				if a.CostUSD != nil {
					agg.TotalCostUSD += *a.CostUSD
				}
			}
			if t.Outcome != nil {
				if t.Outcome.Success {
					agg.TasksCompleted++
				}
				if len(t.Outcome.Escalation) > 0 {
					escalated++
				}
			} else {
				agg.TasksInProgress++
			}
		}
		if agg.TotalTasks > 0 {
			agg.EscalationRate = float64(escalated) / float64(agg.TotalTasks)
		}
		if agg.TasksCompleted > 0 {
			agg.AvgCostPerTask = agg.TotalCostUSD / float64(agg.TasksCompleted)
		}
		e.Aggregates = agg
		return writeEpicEntry(path, e)
	})
}

func containsStr(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
