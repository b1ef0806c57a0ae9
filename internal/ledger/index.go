package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lavallee/cub/internal/fsutil"
)

// appendIndexLocked appends (or replaces by id+kind) a row in the flat index
// file. Callers already hold the ledger root lock.
func (w *Writer) appendIndexLocked(rec IndexRecord) error {
	records, err := readIndex(w.layout.indexPath())
	if err != nil {
		return err
	}
	replaced := false
	for i, r := range records {
		if r.ID == rec.ID && r.Kind == rec.Kind {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return writeIndex(w.layout.indexPath(), records)
}

func readIndex(path string) ([]IndexRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	defer f.Close()

	var records []IndexRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec IndexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("ledger_io: corrupt index row: %w", err)
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	return records, nil
}

func writeIndex(path string, records []IndexRecord) error {
	var buf []byte
	for _, r := range records {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("ledger_io: %w", err)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return fsutil.AtomicWriteFile(path, buf, 0o644)
}

// RebuildIndex walks by-task/ and by-epic/ and regenerates the index from
// the entries themselves, discarding whatever index currently exists.
func (w *Writer) RebuildIndex() error {
	return w.withLock(func() error {
		var records []IndexRecord

		taskRoot := filepath.Join(w.layout.root, "by-task")
		taskDirs, err := os.ReadDir(taskRoot)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ledger_io: %w", err)
		}
		for _, d := range taskDirs {
			if !d.IsDir() {
				continue
			}
			e, err := readEntry(w.layout.taskEntryPath(d.Name()))
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			var success *bool
			if e.Outcome != nil {
				s := e.Outcome.Success
				success = &s
			}
			records = append(records, IndexRecord{
				ID: e.ID, Kind: "task", Stage: e.Workflow.Stage,
				Success: success, EpicID: e.Lineage.EpicID, UpdatedAt: e.Workflow.LastUpdated,
			})
		}

		epicRoot := filepath.Join(w.layout.root, "by-epic")
		epicDirs, err := os.ReadDir(epicRoot)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("ledger_io: %w", err)
		}
		for _, d := range epicDirs {
			if !d.IsDir() {
				continue
			}
			e, err := readEpicEntry(w.layout.epicEntryPath(d.Name()))
			if err != nil {
				return err
			}
			if e == nil {
				continue
			}
			records = append(records, IndexRecord{
				ID: e.ID, Kind: "epic", Stage: e.Workflow.Stage, UpdatedAt: e.Workflow.LastUpdated,
			})
		}

		return writeIndex(w.layout.indexPath(), records)
	})
}
