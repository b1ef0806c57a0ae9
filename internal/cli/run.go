package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/budget"
	"github.com/lavallee/cub/internal/cubconfig"
	"github.com/lavallee/cub/internal/gate"
	"github.com/lavallee/cub/internal/harness"
	"github.com/lavallee/cub/internal/harness/claude"
	"github.com/lavallee/cub/internal/harness/codex"
	"github.com/lavallee/cub/internal/ledger"
	"github.com/lavallee/cub/internal/prompt"
	"github.com/lavallee/cub/internal/runloop"
	"github.com/lavallee/cub/internal/runsession"
	"github.com/lavallee/cub/internal/stagnation"
	"github.com/lavallee/cub/internal/task"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Drive the task loop until the queue empties, the budget is exhausted, or it is interrupted",
		RunE:  runRun,
	}
	cmd.Flags().String("harness", "", "override harness selection")
	cmd.Flags().String("model", "", "override model")
	cmd.Flags().Bool("once", false, "exit after one iteration")
	cmd.Flags().String("task", "", "restrict selection to this task id")
	cmd.Flags().String("parent", "", "restrict selection to this parent and its direct children")
	cmd.Flags().String("label", "", "restrict selection to this label")
	cmd.Flags().Float64("budget", 0, "max cost in USD")
	cmd.Flags().Int("budget-tokens", 0, "max tokens")
	cmd.Flags().Int("max-iterations", 0, "max loop iterations")
	cmd.Flags().Int("max-tasks", 0, "max tasks completed")
	cmd.Flags().Int("per-task-timeout", 0, "per-invocation timeout in seconds")
	cmd.Flags().Bool("stream", false, "request streaming output from the harness")
	cmd.Flags().Bool("require-clean", true, "require a clean VCS state before each iteration")
	cmd.Flags().Bool("main-ok", false, "permit running on a branch named main/master")
	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return newExitError(1, err)
	}
	applyRunFlagOverrides(cmd, &cfg)
	logger := loggerFor(cmd, "cli:run")

	store, err := openStore(cmd)
	if err != nil {
		return newExitError(1, fmt.Errorf("open task backend: %w", err))
	}

	h, err := selectHarness(cfg.Harness)
	if err != nil {
		return newExitError(1, err)
	}

	lroot := ledgerRoot(cmd)
	writer := ledger.NewWriter(lroot)
	reader, err := ledger.NewReader(lroot, 256)
	if err != nil {
		return newExitError(1, err)
	}

	registry := harness.NewRegistry()
	if err := registry.Register(h); err != nil {
		return newExitError(1, err)
	}
	if available := registry.AvailableNames(context.Background()); len(available) == 0 {
		logger.Warn("no registered harness reports available: %s", h.Name())
	}

	checks := gate.DefaultChecks()
	if !cfg.RequireClean {
		checks = checks[1:] // drop vcs_clean
	}
	g := gate.New(projectDir(cmd), nil, checks)

	sessions := runsession.NewManager(cubRoot(cmd))

	taskFlag, _ := cmd.Flags().GetString("task")
	parentFlag, _ := cmd.Flags().GetString("parent")
	labelFlag, _ := cmd.Flags().GetString("label")
	onceFlag, _ := cmd.Flags().GetBool("once")
	timeoutFlag, _ := cmd.Flags().GetInt("per-task-timeout")

	loop := runloop.New(
		runloop.Config{
			Once:           onceFlag,
			Filters:        task.Filters{ID: taskFlag, Parent: parentFlag, Label: labelFlag},
			PerTaskTimeout: time.Duration(timeoutFlag) * time.Second,
			RequireClean:   cfg.RequireClean,
		},
		store, registry, cfg.Harness, cfg.Model,
		writer, reader, prompt.New(),
		budget.NewAccountant(budget.Limits{
			MaxTokens: cfg.MaxTokens, MaxCostUSD: cfg.MaxCostUSD,
			MaxTasks: cfg.MaxTasks, MaxIterations: cfg.MaxIterations, WarnAt: cfg.WarnAt,
		}),
		stagnation.NewBreaker(stagnation.DefaultConfig()),
		g, sessions, projectDir(cmd),
	)

	outcome, err := loop.Run(context.Background())
	logger.Info("run finished: state=%s reason=%s", outcome.FinalState, outcome.Reason)
	if err != nil {
		return newExitError(1, err)
	}
	if outcome.FinalState == runloop.StateStopped && outcome.Reason == "interrupted" {
		return newExitError(130, fmt.Errorf("interrupted"))
	}
	return nil
}

// applyRunFlagOverrides layers explicit `cub run` flags over the
// file/env/default-resolved config, since their user-facing names (§6.3)
// don't match the config struct's mapstructure keys one-to-one.
func applyRunFlagOverrides(cmd *cobra.Command, cfg *cubconfig.Config) {
	if v, _ := cmd.Flags().GetString("harness"); v != "" {
		cfg.Harness = v
	}
	if v, _ := cmd.Flags().GetString("model"); v != "" {
		cfg.Model = v
	}
	if v, _ := cmd.Flags().GetFloat64("budget"); v > 0 {
		cfg.MaxCostUSD = v
	}
	if v, _ := cmd.Flags().GetInt("budget-tokens"); v > 0 {
		cfg.MaxTokens = v
	}
	if v, _ := cmd.Flags().GetInt("max-iterations"); v > 0 {
		cfg.MaxIterations = v
	}
	if v, _ := cmd.Flags().GetInt("max-tasks"); v > 0 {
		cfg.MaxTasks = v
	}
	if v, _ := cmd.Flags().GetBool("require-clean"); cmd.Flags().Changed("require-clean") {
		cfg.RequireClean = v
	}
}

func selectHarness(name string) (harness.Harness, error) {
	switch name {
	case "codex":
		return codex.New(codex.Config{}), nil
	case "claude", "":
		return claude.New(claude.Config{}), nil
	default:
		return nil, fmt.Errorf("unknown harness %q", name)
	}
}
