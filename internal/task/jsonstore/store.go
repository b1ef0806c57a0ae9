// Package jsonstore implements the task backend as a line-delimited JSON
// file, one task per line, guarded by a single advisory file lock. It is
// one of potentially several task.Store implementations (see
// internal/task/extstore for the other), selected at process start and
// never swapped mid-run (§4.1).
package jsonstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lavallee/cub/internal/fsutil"
	"github.com/lavallee/cub/internal/task"
)

// Store is a task.Store backed by {root}/tasks.jsonl.
type Store struct {
	root     string
	dataPath string
	lockPath string
}

// New opens (creating if absent) a jsonstore rooted at dir.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &Store{
		root:     dir,
		dataPath: filepath.Join(dir, "tasks.jsonl"),
		lockPath: filepath.Join(dir, "tasks.lock"),
	}
	if _, err := os.Stat(s.dataPath); os.IsNotExist(err) {
		if err := os.WriteFile(s.dataPath, nil, 0o644); err != nil {
			return nil, fmt.Errorf("init store file: %w", err)
		}
	}
	return s, nil
}

// withLock runs fn holding the store's exclusive advisory lock.
func (s *Store) withLock(fn func() error) error {
	lock, err := fsutil.AcquireExclusive(s.lockPath)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrBackendError, err)
	}
	defer lock.Release()
	return fn()
}

func (s *Store) readAll() ([]task.Task, error) {
	f, err := os.Open(s.dataPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrBackendError, err)
	}
	defer f.Close()

	var out []task.Task
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var t task.Task
		if err := json.Unmarshal([]byte(line), &t); err != nil {
			continue // malformed line: skip, do not abort
		}
		out = append(out, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrBackendError, err)
	}
	return out, nil
}

// writeAll atomically replaces the store contents: temp file, flush, rename.
func (s *Store) writeAll(tasks []task.Task) error {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	for _, t := range tasks {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("%w: %v", task.ErrBackendError, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("%w: %v", task.ErrBackendError, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("%w: %v", task.ErrBackendError, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: %v", task.ErrBackendError, err)
	}
	if err := fsutil.AtomicWriteFile(s.dataPath, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("%w: %v", task.ErrBackendError, err)
	}
	return nil
}

func findIndex(tasks []task.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) Ready(filters task.Filters) ([]task.Task, error) {
	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	idx := task.NewIndex(tasks)

	var ready []task.Task
	for i := range tasks {
		t := &tasks[i]
		if !task.Matches(t, filters) {
			continue
		}
		if task.Ready(idx, t) {
			ready = append(ready, *t)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready, nil
}

func (s *Store) Get(id string) (task.Task, error) {
	tasks, err := s.readAll()
	if err != nil {
		return task.Task{}, err
	}
	if i := findIndex(tasks, id); i >= 0 {
		return tasks[i], nil
	}
	return task.Task{}, task.ErrNotFound
}

func (s *Store) Claim(id, sessionID string) (task.ClaimResult, error) {
	var result task.ClaimResult
	err := s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		if tasks[i].Status != task.StatusOpen {
			result = task.ClaimNotOpen
			if tasks[i].Status == task.StatusInProgress {
				result = task.ClaimRace // another session already holds it
			}
			return nil
		}
		now := time.Now()
		tasks[i].Status = task.StatusInProgress
		tasks[i].SessionID = sessionID
		tasks[i].UpdatedAt = now
		tasks[i].StatusHistory = append(tasks[i].StatusHistory, task.StatusChange{
			From: task.StatusOpen, To: task.StatusInProgress, At: now,
		})
		if err := s.writeAll(tasks); err != nil {
			return err
		}
		result = task.ClaimOK
		return nil
	})
	return result, err
}

func (s *Store) Close(id, reason string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		now := time.Now()
		from := tasks[i].Status
		tasks[i].Status = task.StatusClosed
		tasks[i].UpdatedAt = now
		tasks[i].ClosedAt = &now
		tasks[i].StatusHistory = append(tasks[i].StatusHistory, task.StatusChange{
			From: from, To: task.StatusClosed, At: now, Reason: reason,
		})
		return s.writeAll(tasks)
	})
}

func (s *Store) Reopen(id, reason string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		now := time.Now()
		from := tasks[i].Status
		tasks[i].Status = task.StatusOpen
		tasks[i].ClosedAt = nil
		tasks[i].SessionID = ""
		tasks[i].UpdatedAt = now
		tasks[i].StatusHistory = append(tasks[i].StatusHistory, task.StatusChange{
			From: from, To: task.StatusOpen, At: now, Reason: reason,
		})
		return s.writeAll(tasks)
	})
}

func (s *Store) Update(id string, patch task.Patch) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		applyPatch(&tasks[i], patch)
		tasks[i].UpdatedAt = time.Now()
		return s.writeAll(tasks)
	})
}

func applyPatch(t *task.Task, p task.Patch) {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Parent != nil {
		t.Parent = *p.Parent
	}
	if p.DependsOn != nil {
		t.DependsOn = *p.DependsOn
	}
	if p.Labels != nil {
		t.Labels = *p.Labels
	}
	if p.Assignee != nil {
		t.Assignee = *p.Assignee
	}
	if p.Notes != nil {
		t.Notes = *p.Notes
	}
}

func (s *Store) List(filters task.Filters) ([]task.Task, error) {
	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	var out []task.Task
	for i := range tasks {
		if task.Matches(&tasks[i], filters) {
			out = append(out, tasks[i])
		}
	}
	return out, nil
}

func (s *Store) Search(query string) ([]task.Task, error) {
	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	var out []task.Task
	for _, t := range tasks {
		if strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Description), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) Counts() (map[task.Status]int, error) {
	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	counts := map[task.Status]int{}
	for _, t := range tasks {
		counts[t.Status]++
	}
	return counts, nil
}

func (s *Store) Blocked() ([]task.Task, error) {
	tasks, err := s.readAll()
	if err != nil {
		return nil, err
	}
	idx := task.NewIndex(tasks)
	var out []task.Task
	for i := range tasks {
		t := &tasks[i]
		if t.Status == task.StatusOpen && !task.Ready(idx, t) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) Create(t task.Task) error {
	if !task.ValidID(t.ID) {
		return fmt.Errorf("%w: invalid task id %q", task.ErrInvalid, t.ID)
	}
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		if findIndex(tasks, t.ID) >= 0 {
			return fmt.Errorf("%w: task %q already exists", task.ErrInvalid, t.ID)
		}
		now := time.Now()
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		if t.Status == "" {
			t.Status = task.StatusOpen
		}
		if t.Type == "" {
			t.Type = task.TypeTask
		}
		tasks = append(tasks, t)
		return s.writeAll(tasks)
	})
}

func (s *Store) Delete(id string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		tasks = append(tasks[:i], tasks[i+1:]...)
		return s.writeAll(tasks)
	})
}

func (s *Store) DepAdd(id, dep string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		idx := task.NewIndex(tasks)
		for _, d := range tasks[i].DependsOn {
			if d == dep {
				return nil
			}
		}
		tasks[i].DependsOn = append(tasks[i].DependsOn, dep)
		idx[id] = &tasks[i]
		if task.HasCycle(idx, id) {
			return fmt.Errorf("%w: adding dependency %q to %q introduces a cycle", task.ErrInvalid, dep, id)
		}
		tasks[i].UpdatedAt = time.Now()
		return s.writeAll(tasks)
	})
}

func (s *Store) DepRemove(id, dep string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		out := tasks[i].DependsOn[:0]
		for _, d := range tasks[i].DependsOn {
			if d != dep {
				out = append(out, d)
			}
		}
		tasks[i].DependsOn = out
		tasks[i].UpdatedAt = time.Now()
		return s.writeAll(tasks)
	})
}

func (s *Store) DepList(id string) ([]string, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return t.DependsOn, nil
}

func (s *Store) LabelAdd(id, label string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		if tasks[i].HasLabel(label) {
			return nil
		}
		tasks[i].Labels = append(tasks[i].Labels, label)
		tasks[i].UpdatedAt = time.Now()
		return s.writeAll(tasks)
	})
}

func (s *Store) LabelRemove(id, label string) error {
	return s.withLock(func() error {
		tasks, err := s.readAll()
		if err != nil {
			return err
		}
		i := findIndex(tasks, id)
		if i < 0 {
			return task.ErrNotFound
		}
		out := tasks[i].Labels[:0]
		for _, l := range tasks[i].Labels {
			if l != label {
				out = append(out, l)
			}
		}
		tasks[i].Labels = out
		tasks[i].UpdatedAt = time.Now()
		return s.writeAll(tasks)
	})
}

func (s *Store) LabelList(id string) ([]string, error) {
	t, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return t.Labels, nil
}
