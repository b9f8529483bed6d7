package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/core/daemon"
)

func newServeCommand() *cobra.Command {
	var (
		stdio  bool
		ws     string
		noUnix bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge daemon",
		Long: `Runs the daemon and serves the configured transports.

--stdio speaks newline-delimited JSON on stdin/stdout and exits when stdin
closes. --ws adds a websocket listener; set transport.jwt_secret in the
config to require a token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg := loaded
			if ws != "" {
				cfg.Transport.Websocket = ws
			}
			if noUnix {
				cfg.Transport.Unix = false
			}
			return daemon.NewDaemon(daemon.Options{Config: cfg, Stdio: stdio}).Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&stdio, "stdio", false, "Serve on stdin/stdout")
	cmd.Flags().StringVar(&ws, "ws", "", "Websocket listen address, e.g. 127.0.0.1:8765")
	cmd.Flags().BoolVar(&noUnix, "no-unix", false, "Do not listen on the unix socket")

	return cmd
}
