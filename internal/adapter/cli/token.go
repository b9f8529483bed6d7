package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/ipc"
)

func newTokenCommand() *cobra.Command {
	var (
		ttl     time.Duration
		subject string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a websocket access token",
		Long:  "Signs an HS256 token with transport.jwt_secret. Pass it as a Bearer header or the token query parameter.",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := ipc.SignToken(loaded.Transport.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime, 0 for none")
	cmd.Flags().StringVar(&subject, "subject", "hostbridge-cli", "Token subject")
	return cmd
}
