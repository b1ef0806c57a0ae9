package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Reader is the read-only query surface over a ledger root. Entries are
// cached by task id; the cache is invalidated on access by comparing the
// entry file's mtime, so a concurrent writer is always eventually observed.
type Reader struct {
	layout layout
	cache  *lru.Cache[string, cachedEntry]
}

type cachedEntry struct {
	modTime int64
	entry   *Entry
}

// NewReader opens a reader over root with a bounded in-memory entry cache.
func NewReader(root string, cacheSize int) (*Reader, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, cachedEntry](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	return &Reader{layout: newLayout(root), cache: c}, nil
}

// Get returns the entry for taskID, or nil if none exists.
func (r *Reader) Get(taskID string) (*Entry, error) {
	path := r.layout.taskEntryPath(taskID)
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	mtime := info.ModTime().UnixNano()
	if cached, ok := r.cache.Get(taskID); ok && cached.modTime == mtime {
		return cached.entry, nil
	}
	e, err := readEntry(path)
	if err != nil {
		return nil, err
	}
	r.cache.Add(taskID, cachedEntry{modTime: mtime, entry: e})
	return e, nil
}

// GetEpic returns the epic entry for epicID, or nil if none exists.
func (r *Reader) GetEpic(epicID string) (*EpicEntry, error) {
	return readEpicEntry(r.layout.epicEntryPath(epicID))
}

// ByEpic returns every task entry belonging to epicID, via the index.
func (r *Reader) ByEpic(epicID string) ([]*Entry, error) {
	records, err := readIndex(r.layout.indexPath())
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, rec := range records {
		if rec.Kind != "task" || rec.EpicID != epicID {
			continue
		}
		e, err := r.Get(rec.ID)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// ByRun returns the task ids recorded against runID.
func (r *Reader) ByRun(runID string) ([]string, error) {
	dir := r.layout.runDir(runID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger_io: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// Recent returns up to n task entries sorted by most recently updated.
func (r *Reader) Recent(n int) ([]*Entry, error) {
	records, err := readIndex(r.layout.indexPath())
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	var out []*Entry
	for _, rec := range records {
		if rec.Kind != "task" {
			continue
		}
		e, err := r.Get(rec.ID)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
		if len(out) >= n {
			break
		}
	}
	return out, nil
}

// Search returns task entries whose title or description contains substr
// (case-sensitive, linear scan — the index carries no full-text structure).
func (r *Reader) Search(substr string) ([]*Entry, error) {
	records, err := readIndex(r.layout.indexPath())
	if err != nil {
		return nil, err
	}
	var out []*Entry
	for _, rec := range records {
		if rec.Kind != "task" {
			continue
		}
		e, err := r.Get(rec.ID)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		if containsSubstr(e.Task.Title, substr) || containsSubstr(e.Task.Description, substr) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Stats summarizes the whole ledger: task counts by stage and aggregate cost.
type Stats struct {
	TotalTasks   int
	ByStage      map[WorkflowStage]int
	TotalCostUSD float64
}

func (r *Reader) Stats() (Stats, error) {
	records, err := readIndex(r.layout.indexPath())
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStage: map[WorkflowStage]int{}}
	for _, rec := range records {
		if rec.Kind != "task" {
			continue
		}
		stats.TotalTasks++
		stats.ByStage[rec.Stage]++
		e, err := r.Get(rec.ID)
		if err != nil {
			return Stats{}, err
		}
		if e != nil && e.Outcome != nil {
			stats.TotalCostUSD += e.Outcome.TotalCostUSD
		}
	}
	return stats, nil
}

// ValidateIndex reports whether the on-disk index file looks present and
// non-stale relative to by-task/: cheap enough to run before every
// index-backed query. A caller should RebuildIndex when this returns false.
func (r *Reader) ValidateIndex() (bool, error) {
	taskRoot := filepath.Join(r.layout.root, "by-task")
	taskDirs, err := os.ReadDir(taskRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil // nothing to index yet
		}
		return false, fmt.Errorf("ledger_io: %w", err)
	}

	indexInfo, err := os.Stat(r.layout.indexPath())
	if os.IsNotExist(err) {
		return len(taskDirs) == 0, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger_io: %w", err)
	}

	for _, d := range taskDirs {
		entryInfo, err := os.Stat(filepath.Join(taskRoot, d.Name(), "entry"))
		if err != nil {
			continue
		}
		if entryInfo.ModTime().After(indexInfo.ModTime()) {
			return false, nil
		}
	}
	return true, nil
}

func containsSubstr(s, substr string) bool {
	if substr == "" {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
