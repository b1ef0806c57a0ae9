// Command cub drives the autonomous task loop: it repeatedly selects the
// next ready task, invokes a harness to work it, and records the outcome to
// the ledger, until the queue empties, a budget is exhausted, or the user
// interrupts.
package main

import (
	"fmt"
	"os"

	"github.com/lavallee/cub/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "cub:", err)
		os.Exit(cli.ExitCode(err))
	}
}
