package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"
)

func newLogCommand() *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the daemon log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := logFile()
			out := cmd.OutOrStdout()
			if err := printLastLines(out, path, lines); err != nil && !(follow && os.IsNotExist(err)) {
				return err
			}
			if !follow {
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return tailLog(ctx, out, path)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep streaming new lines")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	return cmd
}

func printLastLines(w io.Writer, path string, n int) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range lastLines(string(content), n) {
		fmt.Fprintln(w, line)
	}
	return nil
}

func lastLines(content string, n int) []string {
	content = strings.TrimRight(content, "\n")
	if content == "" || n <= 0 {
		return nil
	}
	all := strings.Split(content, "\n")
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

func tailLog(ctx context.Context, w io.Writer, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		ReOpen:    true, // 支持日志轮转后继续读
		MustExist: false,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail %s: %w", path, err)
	}
	defer t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Err()
			}
			if line.Err != nil {
				return line.Err
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
