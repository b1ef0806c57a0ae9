// Package cli assembles cub's cobra command tree: run, ready, task, ledger,
// hook (§6.3, §6.4).
package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/cubconfig"
	"github.com/lavallee/cub/internal/logx"
)

// ExitError carries the process exit code a failure should produce.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the intended process exit code from err, defaulting to
// 1 for any error not explicitly tagged.
func ExitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if err == nil {
		return 0
	}
	return 1
}

func newExitError(code int, err error) error { return &ExitError{Code: code, Err: err} }

// Execute builds the root command and runs it against os.Args.
func Execute() error {
	root := newRootCmd()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "cub",
		Short:         "Autonomous coding task loop",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("project-dir", "", "project root (overrides CUB_PROJECT_DIR)")
	root.PersistentFlags().Bool("debug", false, "enable verbose diagnostic logging")

	root.AddCommand(newRunCmd())
	root.AddCommand(newReadyCmd())
	root.AddCommand(newTaskCmd())
	root.AddCommand(newLedgerCmd())
	root.AddCommand(newHookCmd())
	return root
}

func projectDir(cmd *cobra.Command) string {
	dir, _ := cmd.Flags().GetString("project-dir")
	if dir != "" {
		return dir
	}
	if env := os.Getenv("CUB_PROJECT_DIR"); env != "" {
		return env
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func cubRoot(cmd *cobra.Command) string {
	return filepath.Join(projectDir(cmd), ".cub")
}

func ledgerRoot(cmd *cobra.Command) string {
	return filepath.Join(cubRoot(cmd), "ledger")
}

func loggerFor(cmd *cobra.Command, component string) logx.Logger {
	debug, _ := cmd.Flags().GetBool("debug")
	return logx.New(os.Stderr, "", debug).With(component)
}

func loadConfig(cmd *cobra.Command) (cubconfig.Config, error) {
	loader := cubconfig.NewLoader()
	if err := loader.BindFlags(cmd); err != nil {
		return cubconfig.Config{}, err
	}
	return loader.Load()
}

var statusColor = color.New(color.FgGreen).SprintFunc()
var warnColor = color.New(color.FgYellow).SprintFunc()
var errColor = color.New(color.FgRed).SprintFunc()
