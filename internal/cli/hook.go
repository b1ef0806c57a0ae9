package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lavallee/cub/internal/forensics"
)

// newHookCmd implements the external assistant's hook shim (§4.10, §6.4).
// It must read stdin, act, and exit 0 unconditionally: a non-zero exit from
// a hook blocks the parent assistant's turn, so failures here are logged
// rather than surfaced as process failure.
func newHookCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Consume a tool-use hook event on stdin (always exits 0)",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFor(cmd, "cli:hook")
			raw, err := io.ReadAll(os.Stdin)
			if err != nil {
				logger.Warn("hook: failed reading stdin: %v", err)
				return nil
			}
			pipeline := forensics.NewPipeline(ledgerRoot(cmd))
			if err := pipeline.HandleHook(raw); err != nil {
				logger.Warn("hook: %v", err)
			}
			return nil
		},
	}
}
