package fallback

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// FakeResponse is what FakeRunner answers for one command line.
type FakeResponse struct {
	Output string
	Err    error
	// Delay blocks the call; a context that ends first returns Output
	// with the context error, like a killed process.
	Delay time.Duration
}

// FakeRunner allows manager tests to script command results by command line.
type FakeRunner struct {
	mu        sync.Mutex
	responses map[string]FakeResponse
	calls     []string

	// Handler answers command lines with no scripted response.
	Handler func(argv []string) (string, error)
}

// NewFakeRunner returns a runner where every unscripted command fails.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{responses: make(map[string]FakeResponse)}
}

// On scripts the response for a command line such as "amixer get Master".
func (f *FakeRunner) On(cmdline string, out string, err error) *FakeRunner {
	return f.OnResponse(cmdline, FakeResponse{Output: out, Err: err})
}

// OnResponse scripts a full response.
func (f *FakeRunner) OnResponse(cmdline string, resp FakeResponse) *FakeRunner {
	f.mu.Lock()
	f.responses[cmdline] = resp
	f.mu.Unlock()
	return f
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	argv := append([]string{name}, args...)
	line := strings.Join(argv, " ")

	f.mu.Lock()
	f.calls = append(f.calls, line)
	resp, ok := f.responses[line]
	handler := f.Handler
	f.mu.Unlock()

	if !ok {
		if handler != nil {
			return handler(argv)
		}
		return "", fmt.Errorf("command failed: %s: exec: %q: executable file not found in $PATH", line, name)
	}

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return resp.Output, ctx.Err()
		}
	}
	return resp.Output, resp.Err
}

// Calls returns the command lines run so far, in order.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// Count returns how often a command line was run.
func (f *FakeRunner) Count(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}
