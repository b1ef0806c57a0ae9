package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/forensics"
	"github.com/lavallee/cub/internal/ledger"
)

func newLedgerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "ledger", Short: "Query the ledger"}
	cmd.AddCommand(newLedgerGetCmd())
	cmd.AddCommand(newLedgerStatsCmd())
	cmd.AddCommand(newLedgerSearchCmd())
	cmd.AddCommand(newLedgerReconcileCmd())
	return cmd
}

func newLedgerGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Print a task's ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := ledger.NewReader(ledgerRoot(cmd), 64)
			if err != nil {
				return newExitError(1, err)
			}
			entry, err := reader.Get(args[0])
			if err != nil {
				return newExitError(1, err)
			}
			if entry == nil {
				return newExitError(1, fmt.Errorf("no ledger entry for %s", args[0]))
			}
			fmt.Printf("%+v\n", entry)
			return nil
		},
	}
}

func newLedgerStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize ledger totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := ledger.NewReader(ledgerRoot(cmd), 64)
			if err != nil {
				return newExitError(1, err)
			}
			stats, err := reader.Stats()
			if err != nil {
				return newExitError(1, err)
			}
			fmt.Printf("tasks=%d cost_usd=%.2f by_stage=%v\n", stats.TotalTasks, stats.TotalCostUSD, stats.ByStage)
			return nil
		},
	}
}

func newLedgerSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search ledger entries by title/description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reader, err := ledger.NewReader(ledgerRoot(cmd), 64)
			if err != nil {
				return newExitError(1, err)
			}
			entries, err := reader.Search(args[0])
			if err != nil {
				return newExitError(1, err)
			}
			for _, e := range entries {
				fmt.Println(e.ID, e.Task.Title)
			}
			return nil
		},
	}
}

func newLedgerReconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <session-id>",
		Short: "Convert a forensics session into a ledger entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			root := ledgerRoot(cmd)
			pipeline := forensics.NewPipeline(root)
			writer := ledger.NewWriter(root)
			reader, err := ledger.NewReader(root, 64)
			if err != nil {
				return newExitError(1, err)
			}
			recon := forensics.NewReconciler(pipeline, writer, reader)
			result, err := recon.Reconcile(args[0], force)
			if err != nil {
				return newExitError(1, err)
			}
			if result.Skipped != forensics.SkipNone {
				fmt.Println("skipped:", result.Skipped)
				return nil
			}
			fmt.Println(statusColor("reconciled"), result.TaskID)
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "reconcile even if an entry already exists")
	return cmd
}
