package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/task"
	"github.com/lavallee/cub/internal/task/extstore"
	"github.com/lavallee/cub/internal/task/jsonstore"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Inspect and mutate the task backend"}
	cmd.AddCommand(newTaskClaimCmd())
	cmd.AddCommand(newTaskCloseCmd())
	cmd.AddCommand(newTaskListCmd())
	cmd.AddCommand(newTaskCreateCmd())
	return cmd
}

// openStore selects the task backend per the resolved config (§4.1): the
// built-in jsonstore, or a thin wrapper over an external dependency-graph
// CLI tool when task_backend: extstore is configured.
func openStore(cmd *cobra.Command) (task.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.TaskBackend == "extstore" {
		if cfg.TaskBackendBin == "" {
			return nil, fmt.Errorf("task_backend_bin is required when task_backend is extstore")
		}
		return extstore.New(cfg.TaskBackendBin, projectDir(cmd), 30*time.Second), nil
	}
	return jsonstore.New(cubRoot(cmd))
}

func newTaskClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <task-id>",
		Short: "Atomically claim an open task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return newExitError(1, err)
			}
			result, err := store.Claim(args[0], "cli-direct")
			if err != nil {
				return newExitError(1, err)
			}
			switch result {
			case task.ClaimOK:
				fmt.Println(statusColor("claimed"), args[0])
				return nil
			case task.ClaimRace:
				return newExitError(1, fmt.Errorf("claim lost the race for %s", args[0]))
			default:
				return newExitError(1, fmt.Errorf("%s is not open", args[0]))
			}
		},
	}
}

func newTaskCloseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "close <task-id>",
		Short: "Close a task with a reason",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			store, err := openStore(cmd)
			if err != nil {
				return newExitError(1, err)
			}
			if err := store.Close(args[0], reason); err != nil {
				return newExitError(1, err)
			}
			fmt.Println(statusColor("closed"), args[0])
			return nil
		},
	}
	cmd.Flags().String("reason", "", "one-line closure summary")
	return cmd
}

func newTaskListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks matching optional filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			parent, _ := cmd.Flags().GetString("parent")
			label, _ := cmd.Flags().GetString("label")
			store, err := openStore(cmd)
			if err != nil {
				return newExitError(1, err)
			}
			tasks, err := store.List(task.Filters{Parent: parent, Label: label})
			if err != nil {
				return newExitError(1, err)
			}
			for _, t := range tasks {
				fmt.Printf("%s\t%s\t%s\n", t.ID, t.Status, t.Title)
			}
			return nil
		},
	}
	cmd.Flags().String("parent", "", "")
	cmd.Flags().String("label", "", "")
	return cmd
}

func newTaskCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <task-id> <title>",
		Short: "Create a new open task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !task.ValidID(args[0]) {
				return newExitError(1, fmt.Errorf("invalid task id %q", args[0]))
			}
			priority, _ := cmd.Flags().GetInt("priority")
			parent, _ := cmd.Flags().GetString("parent")
			store, err := openStore(cmd)
			if err != nil {
				return newExitError(1, err)
			}
			if err := store.Create(task.Task{
				ID: args[0], Title: args[1], Type: task.TypeTask, Status: task.StatusOpen,
				Priority: priority, Parent: parent,
			}); err != nil {
				return newExitError(1, err)
			}
			fmt.Println(statusColor("created"), args[0])
			return nil
		},
	}
	cmd.Flags().Int("priority", 3, "lower is more urgent")
	cmd.Flags().String("parent", "", "parent epic id")
	return cmd
}
