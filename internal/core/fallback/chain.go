// Package fallback runs ordered chains of interchangeable OS operations.
// The first candidate that succeeds wins and the rest are never tried.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kyson/hostbridge/internal/adapter/logger"
)

// ErrNoCandidates is returned for an empty chain.
var ErrNoCandidates = errors.New("fallback: no candidates")

// Candidate is one way of performing an operation: either an argv run
// through the Runner, or an in-process Func (e.g. a sysfs write).
type Candidate struct {
	Name string
	Argv []string
	Func func(ctx context.Context) (string, error)
}

// Cmd builds an argv candidate.
func Cmd(argv ...string) Candidate {
	return Candidate{Name: strings.Join(argv, " "), Argv: argv}
}

// Op builds an in-process candidate.
func Op(name string, fn func(ctx context.Context) (string, error)) Candidate {
	return Candidate{Name: name, Func: fn}
}

// WithSudo returns the pair [argv, sudo argv].
func WithSudo(argv ...string) []Candidate {
	sudo := append([]string{"sudo"}, argv...)
	return []Candidate{Cmd(argv...), Cmd(sudo...)}
}

// Chain concatenates candidate groups in order.
func Chain(groups ...[]Candidate) []Candidate {
	var out []Candidate
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func (c Candidate) String() string {
	if c.Name != "" {
		return c.Name
	}
	return strings.Join(c.Argv, " ")
}

// Attempt records what one candidate did.
type Attempt struct {
	Candidate Candidate
	Output    string
	Err       error
	Cut       bool
}

// OK reports whether the attempt counts as a success.
func (a Attempt) OK() bool { return a.Err == nil }

// Outcome describes a successful chain run.
type Outcome struct {
	Winner   Candidate
	Output   string
	Attempts []Attempt
	// Cut is set when the winning attempt hit its cutoff and Output is partial.
	Cut bool
}

// ExhaustedError is returned when every candidate failed. Its message is
// the last candidate's error.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) last() error {
	if len(e.Attempts) == 0 {
		return ErrNoCandidates
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *ExhaustedError) Error() string {
	return e.last().Error()
}

func (e *ExhaustedError) Unwrap() error {
	return e.last()
}

// Trace lists every attempt in order, one per line.
func (e *ExhaustedError) Trace() string {
	var b strings.Builder
	for i, a := range e.Attempts {
		fmt.Fprintf(&b, "attempt %d: %s: %v\n", i+1, a.Candidate, a.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Engine executes chains against a Runner.
type Engine struct {
	runner  Runner
	timeout time.Duration
}

// New creates an engine. A nil runner means real commands.
func New(runner Runner) *Engine {
	if runner == nil {
		runner = NewExecRunner()
	}
	return &Engine{runner: runner}
}

// WithTimeout returns a copy whose attempts fail once d has passed.
// Unlike a cutoff this is a hard error. RunCutoff attempts are bounded by
// their cutoff instead.
func (e *Engine) WithTimeout(d time.Duration) *Engine {
	cp := *e
	cp.timeout = d
	return &cp
}

// Output runs a single command and returns its stdout.
func (e *Engine) Output(ctx context.Context, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", ErrNoCandidates
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.runner.Run(ctx, argv[0], argv[1:]...)
}

// Run tries candidates in order until one succeeds.
func (e *Engine) Run(ctx context.Context, cands ...Candidate) (Outcome, error) {
	return e.run(ctx, 0, cands)
}

// RunCutoff is Run with a per-attempt ceiling. An attempt that reaches
// the ceiling is a soft success carrying its partial output and Cut=true.
func (e *Engine) RunCutoff(ctx context.Context, limit time.Duration, cands ...Candidate) (Outcome, error) {
	return e.run(ctx, limit, cands)
}

func (e *Engine) run(ctx context.Context, limit time.Duration, cands []Candidate) (Outcome, error) {
	if len(cands) == 0 {
		return Outcome{}, ErrNoCandidates
	}

	attempts := make([]Attempt, 0, len(cands))
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			return Outcome{Attempts: attempts}, fmt.Errorf("fallback: %s: %w", c, err)
		}

		a := e.attempt(ctx, limit, c)
		attempts = append(attempts, a)
		if a.OK() {
			return Outcome{Winner: c, Output: a.Output, Attempts: attempts, Cut: a.Cut}, nil
		}
		if ctx.Err() != nil {
			return Outcome{Attempts: attempts}, a.Err
		}
		logger.Debug("Candidate failed", "candidate", c.String(), "error", a.Err)
	}
	return Outcome{Attempts: attempts}, &ExhaustedError{Attempts: attempts}
}

func (e *Engine) attempt(ctx context.Context, limit time.Duration, c Candidate) Attempt {
	a := Attempt{Candidate: c}
	// a cutoff is the attempt's ceiling; the hard timeout must not preempt it
	if e.timeout > 0 && limit <= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	var out string
	cut, err := WithCutoff(ctx, limit, func(ctx context.Context) error {
		var runErr error
		out, runErr = e.exec(ctx, c)
		return runErr
	})
	a.Output, a.Err, a.Cut = out, err, cut
	return a
}

func (e *Engine) exec(ctx context.Context, c Candidate) (string, error) {
	switch {
	case c.Func != nil:
		return c.Func(ctx)
	case len(c.Argv) > 0:
		return e.runner.Run(ctx, c.Argv[0], c.Argv[1:]...)
	default:
		return "", fmt.Errorf("fallback: candidate %q has nothing to run", c.Name)
	}
}
