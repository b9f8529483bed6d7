package cli

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kyson/hostbridge/internal/env"
)

var startProcess = exec.Command

// SetStartProcess lets tests replace how the background daemon is spawned.
func SetStartProcess(fn func(name string, args ...string) *exec.Cmd) {
	if fn == nil {
		startProcess = exec.Command
		return
	}
	startProcess = fn
}

func newStartCommand() *cobra.Command {
	var (
		ws     string
		noUnix bool
		wait   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := env.Get()
			// 1. 检查是否已经运行
			if env.CheckLock(paths.HomeDir) == nil {
				return errors.New("hostbridge is already running, stop it first")
			}

			// 2. 传递 --home 给子进程，确保子进程使用相同的目录
			serveArgs := []string{"--home", paths.HomeDir}
			if loadedPath != "" {
				serveArgs = append(serveArgs, "--config", loadedPath)
			}
			if f := cmd.Flag("debug"); f != nil && f.Value.String() == "true" {
				serveArgs = append(serveArgs, "--debug")
			}
			serveArgs = append(serveArgs, "serve")
			if ws != "" {
				serveArgs = append(serveArgs, "--ws", ws)
			}
			if noUnix {
				serveArgs = append(serveArgs, "--no-unix")
			}

			exePath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot locate executable: %w", err)
			}
			child := startProcess(exePath, serveArgs...)
			child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
			if err := child.Start(); err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			exited := make(chan error, 1)
			go func() { exited <- child.Wait() }()

			// 3. 等子进程应答，或者提前退出（比如配置错误）
			ready := awaitDaemon(cmd, exited, wait, !noUnix)
			select {
			case err := <-exited:
				return fmt.Errorf("daemon exited unexpectedly (%v), check %s", err, logFile())
			default:
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "hostbridge started [PID: %d]\n", child.Process.Pid)
			if !ready && !noUnix {
				fmt.Fprintf(out, "Socket not answering yet: %s\n", paths.SocketFile)
			}
			fmt.Fprintf(out, "Log file: %s\n", logFile())
			return nil
		},
	}

	cmd.Flags().StringVar(&ws, "ws", "", "Websocket listen address, e.g. 127.0.0.1:8765")
	cmd.Flags().BoolVar(&noUnix, "no-unix", false, "Do not listen on the unix socket")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to wait for the daemon to answer")

	return cmd
}

// awaitDaemon polls daemonGetStatus until it answers, the child exits or
// wait runs out. Without ping it only watches for an early exit. An exit
// is put back on the channel for the caller.
func awaitDaemon(cmd *cobra.Command, exited chan error, wait time.Duration, ping bool) bool {
	deadline := time.After(wait)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			exited <- err
			return false
		case <-deadline:
			return false
		case <-tick.C:
			if !ping {
				continue
			}
			if _, err := callDaemon(cmd.Context(), "daemonGetStatus", nil); err == nil {
				return true
			}
		}
	}
}
