package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/task"
)

func newReadyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List ready tasks and exit",
		RunE:  runReady,
	}
	cmd.Flags().String("parent", "", "restrict to this parent and its direct children")
	cmd.Flags().String("label", "", "restrict to this label")
	return cmd
}

func runReady(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return newExitError(1, err)
	}
	parent, _ := cmd.Flags().GetString("parent")
	label, _ := cmd.Flags().GetString("label")

	tasks, err := store.Ready(task.Filters{Parent: parent, Label: label})
	if err != nil {
		return newExitError(1, err)
	}
	for _, t := range tasks {
		fmt.Printf("%s\t%s\t%s\n", t.ID, statusColor(string(t.Status)), t.Title)
	}
	return nil
}
