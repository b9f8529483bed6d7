package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/version"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), (&version.Info{}).String())
		},
	}
}
