package fallback

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner executes one OS command and returns its stdout.
//
// On failure the output collected so far is still returned, so a caller
// that cut the command short can use what was printed before the kill.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Env is appended to the inherited environment.
	Env []string
	// WaitDelay bounds how long Run waits for the pipes after the
	// context kills the process.
	WaitDelay time.Duration
}

// NewExecRunner returns a Runner with a C locale so tool output is parseable.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		Env:       []string{"LC_ALL=C"},
		WaitDelay: time.Second,
	}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if len(r.Env) > 0 {
		cmd.Env = append(cmd.Environ(), r.Env...)
	}
	cmd.WaitDelay = r.WaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := stdout.String()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("command failed: %s: %w: %s", commandLine(name, args), err, msg)
		}
		return out, fmt.Errorf("command failed: %s: %w", commandLine(name, args), err)
	}
	return out, nil
}

func commandLine(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
