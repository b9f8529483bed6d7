package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/env"
)

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := callDaemon(cmd.Context(), "daemonGetStatus", nil)
			if errors.Is(err, ErrDaemonUnavailable) {
				if env.CheckLock(env.Get().HomeDir) == nil {
					return fmt.Errorf("daemon holds the lock but its socket is unreachable: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "hostbridge is not running")
				return err
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return printJSON(out, res.Data, isTerminal(out))
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := callDaemon(cmd.Context(), "daemonStop", nil)
			if err != nil {
				return err
			}
			if !res.OK() {
				return errors.New(res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			return nil
		},
	}
}
