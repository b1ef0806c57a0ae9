// Package runloop implements the top-level state machine that drives one
// invocation of the loop end to end (§4.7): Init, Prechecks, Select,
// Compose, Dispatch, Record, PostCheck, and the terminal states Done,
// Failed, Stopped.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lavallee/cub/internal/budget"
	"github.com/lavallee/cub/internal/errs"
	"github.com/lavallee/cub/internal/gate"
	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/ledger"
	"github.com/lavallee/cub/internal/logx"
	"github.com/lavallee/cub/internal/prompt"
	"github.com/lavallee/cub/internal/runsession"
	"github.com/lavallee/cub/internal/stagnation"
	"github.com/lavallee/cub/internal/task"
)

// State is one node of the run loop's state machine.
type State string

const (
	StateInit      State = "init"
	StatePrechecks State = "prechecks"
	StateSelect    State = "select"
	StateCompose   State = "compose"
	StateDispatch  State = "dispatch"
	StateRecord    State = "record"
	StatePostCheck State = "postcheck"
	StateDone      State = "done"
	StateFailed    State = "failed"
	StateStopped   State = "stopped"
)

// Outcome is the loop's final disposition, returned from Run.
type Outcome struct {
	FinalState State
	Reason     string
}

// Config bundles the loop's tunables (§4.4, §4.5, §4.6, §6.3 flags).
type Config struct {
	Once           bool
	Filters        task.Filters
	PerTaskTimeout time.Duration
	RequireClean   bool
}

// Loop wires together every stateless service plus the two owned stores
// (task backend, ledger) into one run.
type Loop struct {
	cfg        Config
	tasks      task.Store
	harnesses  *harness.Registry
	harnessHint string
	modelHint  string
	writer     *ledger.Writer
	reader     *ledger.Reader
	composer   *prompt.Composer
	accountant *budget.Accountant
	breaker    *stagnation.Breaker
	gateway    *gate.Gate
	sessions   *runsession.Manager
	logger     logx.Logger

	harnessBreakers *errs.Manager // one circuit per harness name, guards Invoke

	projectRoot string
	runID       string

	interrupted int // number of SIGINT received
}

// New assembles a Loop from its component services.
func New(
	cfg Config,
	tasks task.Store,
	harnesses *harness.Registry,
	harnessHint, modelHint string,
	writer *ledger.Writer,
	reader *ledger.Reader,
	composer *prompt.Composer,
	accountant *budget.Accountant,
	breaker *stagnation.Breaker,
	gateway *gate.Gate,
	sessions *runsession.Manager,
	projectRoot string,
) *Loop {
	return &Loop{
		cfg: cfg, tasks: tasks, harnesses: harnesses, harnessHint: harnessHint, modelHint: modelHint,
		writer: writer, reader: reader, composer: composer, accountant: accountant,
		breaker: breaker, gateway: gateway, sessions: sessions, projectRoot: projectRoot,
		logger:          logx.NewComponentLogger("runloop"),
		harnessBreakers: errs.NewManager(errs.DefaultCircuitBreakerConfig()),
	}
}

// Run drives the state machine to completion, honoring ctx cancellation
// and installing its own SIGINT handling per the double-signal contract: the
// first signal requests a graceful stop after the current Record state, the
// second forces immediate exit 130.
func (l *Loop) Run(ctx context.Context) (Outcome, error) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if _, ok := <-sigCh; !ok {
			return
		}
		cancel()
		if _, ok := <-sigCh; ok {
			os.Exit(130)
		}
	}()

	state := StateInit
	var currentTask *task.Task
	var currentAttemptNumber int

	for {
		select {
		case <-ctx.Done():
			if state != StateRecord {
				return l.finish(StateStopped, "interrupted")
			}
		default:
		}

		switch state {
		case StateInit:
			if err := l.doInit(); err != nil {
				return l.finish(StateFailed, err.Error())
			}
			state = StatePrechecks

		case StatePrechecks:
			result := l.gateway.Run(ctx, false)
			if fail := gate.FirstFail(result); fail != nil {
				return l.finish(StateFailed, "precheck_failed: "+fail.Name)
			}
			state = StateSelect

		case StateSelect:
			t, done, err := l.doSelect()
			if err != nil {
				return l.finish(StateFailed, err.Error())
			}
			if done != "" {
				return l.finish(StateDone, done)
			}
			currentTask = t
			state = StateCompose

		case StateCompose:
			attemptNum, err := l.doCompose(*currentTask)
			if err != nil {
				return l.finish(StateFailed, err.Error())
			}
			currentAttemptNumber = attemptNum
			state = StateDispatch

		case StateDispatch:
			result, dispatchErr := l.doDispatch(ctx, *currentTask, currentAttemptNumber)
			if dispatchErr != nil {
				return l.finish(StateFailed, dispatchErr.Error())
			}
			l.doRecord(*currentTask, currentAttemptNumber, result)
			if result != nil && result.ErrorCategory.Fatal() {
				return l.finish(StateFailed, fmt.Sprintf("harness_fatal: %s", result.ErrorCategory))
			}
			state = StatePostCheck

		case StatePostCheck:
			if trip := l.breaker.Check(); trip != stagnation.NoTrip {
				return l.finish(StateStopped, "stagnation: "+string(trip))
			}
			if exhausted := l.accountant.CheckExhaustion(); exhausted != budget.NotExhausted {
				return l.finish(StateStopped, "budget_exhausted: "+string(exhausted))
			}
			if l.cfg.Once {
				return l.finish(StateDone, "once_complete")
			}
			state = StateSelect
		}
	}
}

func (l *Loop) doInit() error {
	l.runID = runsession.NewRunID(nowOrZero())
	return l.sessions.Start(runsession.Session{
		RunID: l.runID, PID: os.Getpid(), StartedAt: nowOrZero(),
		Harness: l.harnessHint, Phase: runsession.PhaseRunning, ProjectDir: l.projectRoot,
		Filters: runsession.Filters{Task: l.cfg.Filters.ID, Parent: l.cfg.Filters.Parent, Label: l.cfg.Filters.Label},
	})
}

// doSelect returns (task, "", nil) when a task was picked, or
// (nil, <done-reason>, nil) when the loop should transition to Done.
func (l *Loop) doSelect() (*task.Task, string, error) {
	l.accountant.EnterIteration()

	if l.cfg.Filters.ID != "" {
		t, err := l.tasks.Get(l.cfg.Filters.ID)
		if errors.Is(err, task.ErrNotFound) {
			return nil, "", fmt.Errorf("task not found: %s", l.cfg.Filters.ID)
		}
		if err != nil {
			return nil, "", err
		}
		if t.Status == task.StatusClosed {
			return nil, "task_already_closed", nil
		}
	}

	ready, err := l.tasks.Ready(l.cfg.Filters)
	if err != nil {
		return nil, "", err
	}
	if len(ready) == 0 {
		return nil, "no_ready_tasks", nil
	}
	return &ready[0], "", nil
}

func (l *Loop) doCompose(t task.Task) (int, error) {
	entry, err := l.writer.CreateTaskEntry(t.ID, ledger.TaskSnapshot{
		Title: t.Title, Description: t.Description, Type: string(t.Type),
		Priority: t.Priority, Labels: t.Labels, CreatedAt: t.CreatedAt,
	}, ledger.Lineage{EpicID: t.Parent})
	if err != nil {
		return 0, err
	}

	attemptNum := len(entry.Attempts) + 1
	system, taskPrompt := l.composer.Compose(prompt.Inputs{
		ProjectRoot:      l.projectRoot,
		Task:             &t,
		PreviousAttempts: entry.Attempts,
	})
	if err := l.writer.WritePromptFile(t.ID, attemptNum, system+"\n\n"+taskPrompt, map[string]string{
		"task_id": t.ID, "run_id": l.runID,
	}); err != nil {
		return 0, err
	}
	return attemptNum, nil
}

// doDispatch claims the task, invokes the harness, and returns its result.
// Any error returned here means dispatch never reached a recordable attempt.
// After a successful claim (missing harness, harness log open failure, open
// circuit, or a plumbing error from Invoke itself) the claim is reverted to
// open so the task remains selectable on a future run instead of being
// stranded in_progress forever; a claim that is not won returns an error
// with nothing to revert.
func (l *Loop) doDispatch(ctx context.Context, t task.Task, attemptNum int) (result *harness.InvokeResult, err error) {
	claimResult, err := l.tasks.Claim(t.ID, l.runID)
	if err != nil {
		return nil, err
	}
	if claimResult == task.ClaimRace {
		claimResult, err = l.tasks.Claim(t.ID, l.runID)
		if err != nil {
			return nil, err
		}
	}
	if claimResult != task.ClaimOK {
		return nil, fmt.Errorf("claim failed for %s", t.ID)
	}

	defer func() {
		if err != nil {
			if rerr := l.tasks.Reopen(t.ID, "dispatch error: "+err.Error()); rerr != nil {
				l.logger.Error("failed to revert claim after dispatch error: %v", rerr)
			}
		}
	}()

	h, err := l.harnesses.Select(l.harnessHint)
	if err != nil {
		return nil, err
	}

	sink, err := l.writer.OpenHarnessLog(t.ID, attemptNum)
	if err != nil {
		return nil, err
	}
	defer sink.Close()

	dispatchCtx := ctx
	var cancel context.CancelFunc
	if l.cfg.PerTaskTimeout > 0 {
		dispatchCtx, cancel = context.WithTimeout(ctx, l.cfg.PerTaskTimeout)
		defer cancel()
	}

	useModel := l.modelHint
	if override, ok := t.ModelOverride(); ok {
		useModel = override
	}

	cb := l.harnessBreakers.Get(h.Name())
	if !cb.Allow() {
		err = fmt.Errorf("harness %s: circuit open after repeated failures", h.Name())
		return nil, err
	}
	result, err = h.Invoke(dispatchCtx, harness.InvokeRequest{
		TaskID: t.ID, Model: useModel, Cwd: l.projectRoot, LogSink: sink,
		EnvOverrides: map[string]string{"CUB_RUN_ACTIVE": "1"},
	})
	cb.Mark(err)
	return result, err
}

func (l *Loop) doRecord(t task.Task, attemptNum int, result *harness.InvokeResult) {
	attempt := ledger.Attempt{
		AttemptNumber: attemptNum, RunID: l.runID, Harness: l.harnessHint, Model: l.modelHint,
		Success: result != nil && result.Success,
	}
	if result != nil {
		attempt.ErrorCategory = string(result.ErrorCategory)
		attempt.ErrorSummary = result.ErrorSummary
		attempt.TokensIn = result.TokensIn
		attempt.TokensOut = result.TokensOut
		attempt.CacheRead = result.CacheRead
		attempt.CacheWrite = result.CacheWrite
		attempt.CostUSD = result.CostUSD
		attempt.DurationS = result.DurationS
	}
	if err := l.writer.AppendAttempt(t.ID, attempt); err != nil {
		l.logger.Error("failed to append attempt: %v", err)
	}

	closed := false
	if fresh, err := l.tasks.Get(t.ID); err == nil && fresh.Status == task.StatusClosed {
		closed = true
	}

	// A non-closing attempt leaves the task claimed in_progress forever
	// unless reverted here: the next Select only ever considers open tasks,
	// so without this the loop could make exactly one attempt per task.
	if !closed {
		if err := l.tasks.Reopen(t.ID, "attempt did not close task"); err != nil {
			l.logger.Error("failed to revert claim after attempt: %v", err)
		}
	}

	l.accountant.AccountAttempt(result, closed)
	l.breaker.Record(stagnation.Outcome{
		TaskID: t.ID, Success: attempt.Success, ErrorCategory: attempt.ErrorCategory, Closed: closed,
	})

	if closed {
		verification := l.gateway.Run(context.Background(), true)
		status := ledger.VerificationPass
		if gate.FirstFail(verification) != nil {
			status = ledger.VerificationFail
		}
		outcome := ledger.Outcome{Success: attempt.Success, FinalModel: attempt.Model}
		if err := l.writer.FinalizeTaskEntry(t.ID, outcome, nil, ledger.Verification{Status: status}); err != nil {
			l.logger.Error("failed to finalize entry: %v", err)
		}
	}
}

func (l *Loop) finish(state State, reason string) (Outcome, error) {
	phase := runsession.PhaseCompleted
	switch state {
	case StateFailed:
		phase = runsession.PhaseFailed
	case StateStopped:
		phase = runsession.PhaseStopped
	}
	if l.sessions != nil && l.runID != "" {
		_ = l.sessions.Finish(runsession.Session{RunID: l.runID, PID: os.Getpid(), ProjectDir: l.projectRoot}, phase)
	}
	var err error
	if state == StateFailed {
		err = fmt.Errorf("run loop failed: %s", reason)
	}
	return Outcome{FinalState: state, Reason: reason}, err
}

func nowOrZero() time.Time { return time.Now() }
