// Package extstore implements task.Store as a thin wrapper over an external
// dependency-graph CLI tool, demonstrating that the task backend contract is
// satisfied by more than the built-in jsonstore (see SPEC_FULL.md Part D,
// resolving the open question on task backend variants). The external tool
// is expected to expose one subcommand per capability and speak JSON on
// stdout, in the shape of the teacher's shellCommandRunner-backed verify
// checks.
package extstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lavallee/cub/internal/task"
)

// Runner executes the external tool's subcommands. Exposed as an interface
// so tests can substitute a fake binary.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

type execRunner struct {
	binary  string
	workdir string
	timeout time.Duration
}

func (r execRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = r.workdir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v: %s", task.ErrBackendError, r.binary, strings.Join(args, " "), err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// Store talks to the external dependency-graph tool for every capability.
type Store struct {
	runner Runner
}

// New builds a Store that shells out to binary for every operation, with
// invocations run from workdir and bounded by timeout (0 = no timeout).
func New(binary, workdir string, timeout time.Duration) *Store {
	return &Store{runner: execRunner{binary: binary, workdir: workdir, timeout: timeout}}
}

// NewWithRunner builds a Store against a caller-supplied Runner, for tests.
func NewWithRunner(r Runner) *Store {
	return &Store{runner: r}
}

func (s *Store) call(ctx context.Context, out any, args ...string) error {
	data, err := s.runner.Run(ctx, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode external tool output: %v", task.ErrBackendError, err)
	}
	return nil
}

func (s *Store) Ready(filters task.Filters) ([]task.Task, error) {
	args := []string{"ready", "--json"}
	args = appendFilterArgs(args, filters)
	var tasks []task.Task
	if err := s.call(context.Background(), &tasks, args...); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) Get(id string) (task.Task, error) {
	var t task.Task
	if err := s.call(context.Background(), &t, "get", id, "--json"); err != nil {
		return task.Task{}, err
	}
	if t.ID == "" {
		return task.Task{}, task.ErrNotFound
	}
	return t, nil
}

func (s *Store) Claim(id, sessionID string) (task.ClaimResult, error) {
	var resp struct {
		Result string `json:"result"`
	}
	if err := s.call(context.Background(), &resp, "claim", id, "--session", sessionID, "--json"); err != nil {
		return 0, err
	}
	switch resp.Result {
	case "ok":
		return task.ClaimOK, nil
	case "race":
		return task.ClaimRace, nil
	default:
		return task.ClaimNotOpen, nil
	}
}

func (s *Store) Close(id, reason string) error {
	return s.call(context.Background(), nil, "close", id, "--reason", reason)
}

func (s *Store) Update(id string, patch task.Patch) error {
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	return s.call(context.Background(), nil, "update", id, "--patch", string(data))
}

func (s *Store) List(filters task.Filters) ([]task.Task, error) {
	args := []string{"list", "--json"}
	args = appendFilterArgs(args, filters)
	var tasks []task.Task
	if err := s.call(context.Background(), &tasks, args...); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) Search(query string) ([]task.Task, error) {
	var tasks []task.Task
	if err := s.call(context.Background(), &tasks, "search", query, "--json"); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) Counts() (map[task.Status]int, error) {
	var counts map[task.Status]int
	if err := s.call(context.Background(), &counts, "counts", "--json"); err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *Store) Blocked() ([]task.Task, error) {
	var tasks []task.Task
	if err := s.call(context.Background(), &tasks, "blocked", "--json"); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) Create(t task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("%w: %v", task.ErrInvalid, err)
	}
	return s.call(context.Background(), nil, "create", "--task", string(data))
}

func (s *Store) Delete(id string) error {
	return s.call(context.Background(), nil, "delete", id)
}

func (s *Store) Reopen(id, reason string) error {
	return s.call(context.Background(), nil, "reopen", id, "--reason", reason)
}

func (s *Store) DepAdd(id, dep string) error    { return s.call(context.Background(), nil, "dep-add", id, dep) }
func (s *Store) DepRemove(id, dep string) error { return s.call(context.Background(), nil, "dep-remove", id, dep) }

func (s *Store) DepList(id string) ([]string, error) {
	var deps []string
	if err := s.call(context.Background(), &deps, "dep-list", id, "--json"); err != nil {
		return nil, err
	}
	return deps, nil
}

func (s *Store) LabelAdd(id, label string) error {
	return s.call(context.Background(), nil, "label-add", id, label)
}

func (s *Store) LabelRemove(id, label string) error {
	return s.call(context.Background(), nil, "label-remove", id, label)
}

func (s *Store) LabelList(id string) ([]string, error) {
	var labels []string
	if err := s.call(context.Background(), &labels, "label-list", id, "--json"); err != nil {
		return nil, err
	}
	return labels, nil
}

func appendFilterArgs(args []string, f task.Filters) []string {
	if f.ID != "" {
		args = append(args, "--id", f.ID)
	}
	if f.Parent != "" {
		args = append(args, "--parent", f.Parent)
	}
	if f.Label != "" {
		args = append(args, "--label", f.Label)
	}
	return args
}

var _ task.Store = (*Store)(nil)
