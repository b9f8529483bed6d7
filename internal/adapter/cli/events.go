package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	var (
		follow   bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Drain the daemon event queue",
		Long:  "Prints pending events one JSON object per line. Draining removes them for every other consumer.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			out := cmd.OutOrStdout()
			if err := drainEvents(ctx, out); err != nil || !follow {
				return err
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := drainEvents(ctx, out); err != nil {
						return err
					}
				}
			}
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new events")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Polling interval with --follow")
	return cmd
}

func drainEvents(ctx context.Context, out io.Writer) error {
	res, err := callDaemon(ctx, "popEvents", nil)
	if err != nil {
		return err
	}
	if !res.OK() {
		return fmt.Errorf("popEvents failed: %s", res.Message)
	}
	raw, err := json.Marshal(res.Data)
	if err != nil {
		return err
	}
	var events []json.RawMessage
	if err := json.Unmarshal(raw, &events); err != nil {
		return fmt.Errorf("unexpected popEvents payload: %w", err)
	}
	for _, ev := range events {
		if _, err := fmt.Fprintln(out, string(ev)); err != nil {
			return err
		}
	}
	return nil
}
