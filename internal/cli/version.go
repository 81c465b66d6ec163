package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"kq-tunnel/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long: `Show detailed version information including build time and git commit.

Example:
  kqtunnel version`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "kqtunnel %s\n", version.GetVersion())
			fmt.Fprintf(out, "%s\n", version.Platform())
		},
	}
}
