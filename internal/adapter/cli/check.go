package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/adapter/logger"
	"github.com/kyson/hostbridge/internal/core/config"
	"github.com/kyson/hostbridge/internal/env"
)

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check [config-file]",
		Short: "Check configuration and daemon health",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			paths := env.Get()

			path := loadedPath
			if len(args) == 1 {
				path = args[0]
			}
			logger.Debug("Checking configuration", "path", path)
			cfg, err := config.Load(path)
			if err != nil {
				logger.Error("Config check failed", "error", err)
				fmt.Fprintf(out, "config  FAIL  %v\n", err)
				return err
			}
			fmt.Fprintf(out, "config  ok    %s\n", path)
			fmt.Fprintf(out, "home    ok    %s\n", paths.HomeDir)

			// 只是检查，daemon 没跑不算失败
			if env.CheckLock(paths.HomeDir) != nil {
				fmt.Fprintln(out, "daemon  stopped")
				return nil
			}
			if !cfg.Transport.Unix {
				fmt.Fprintln(out, "daemon  running (unix socket disabled)")
				return nil
			}
			if _, err := callDaemon(cmd.Context(), "daemonGetStatus", nil); err != nil {
				fmt.Fprintf(out, "daemon  FAIL  holds the lock but %s does not answer\n", paths.SocketFile)
				return errors.Join(errors.New("daemon socket unreachable"), err)
			}
			fmt.Fprintf(out, "daemon  ok    %s\n", paths.SocketFile)
			return nil
		},
	}
}
